package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/permaroam/roamer/internal/core/domain"
)

// arFS file metadata document, stored as the data body of a file entry tx.
type fileEntryDoc struct {
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	DataTxID        string `json:"dataTxId"`
	DataContentType string `json:"dataContentType"`
}

// ResolveFileMeta fetches and parses the metadata document of a wrapped file
// entry transaction. Returns nil without error for transactions that are not
// file entries.
func (c *Client) ResolveFileMeta(ctx context.Context, tx *domain.TransactionMeta) (*domain.FileMeta, error) {
	if !tx.IsFileEntry() {
		return nil, nil
	}
	body, err := c.get(ctx, "/"+tx.ID, "application/json")
	if err != nil {
		return nil, err
	}
	var doc fileEntryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: file entry %s: %v", ErrMalformed, tx.ID, err)
	}
	if doc.DataTxID == "" {
		return nil, fmt.Errorf("%w: file entry %s missing dataTxId", ErrMalformed, tx.ID)
	}
	return &domain.FileMeta{
		Name:        doc.Name,
		Size:        doc.Size,
		ContentType: doc.DataContentType,
		DataTxID:    doc.DataTxID,
	}, nil
}
