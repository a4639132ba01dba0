package domain

// Tag is a single name/value pair attached to a transaction. Order is
// preserved and duplicate names are allowed.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FileMeta describes the embedded file entry carried by a wrapped (ArFS-style)
// metadata transaction. Present only when the transaction is a file entry.
type FileMeta struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	DataTxID    string `json:"dataTxId"`
}

// TransactionMeta is an immutable view of an Arweave transaction as returned
// by the gateway. Identity is the transaction ID.
type TransactionMeta struct {
	ID             string    `json:"id"`
	OwnerAddress   string    `json:"owner_address"`
	BlockHeight    int64     `json:"block_height"`
	BlockTimestamp int64     `json:"block_timestamp"` // seconds since epoch
	Tags           []Tag     `json:"tags"`
	DataSize       int64     `json:"data_size"`
	ContentType    string    `json:"content_type"`
	BundledIn      string    `json:"bundled_in,omitempty"`
	File           *FileMeta `json:"file,omitempty"`
}

// TagValue returns the value of the first tag with the given name, or "" when
// the tag is absent.
func (t *TransactionMeta) TagValue(name string) string {
	for _, tag := range t.Tags {
		if tag.Name == name {
			return tag.Value
		}
	}
	return ""
}

// IsFileEntry reports whether the transaction is a wrapped file metadata
// entry rather than raw content.
func (t *TransactionMeta) IsFileEntry() bool {
	return t.TagValue("Entity-Type") == "file"
}
