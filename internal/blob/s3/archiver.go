package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// multipartCutover is the payload size above which a result uploads via
// multipart. Results carry their full fill history, so long executions with
// thousands of slices produce payloads worth splitting.
const multipartCutover = 8 * 1024 * 1024

// objectPutter is the part of Writer the archiver uses. Tests substitute a
// fake.
type objectPutter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// ResultArchiver implements domain.ResultArchiver: each finished execution
// result is serialized to JSON and uploaded under a date-partitioned key so
// offline analysis can list a day's executions with a single prefix scan.
type ResultArchiver struct {
	putter  objectPutter
	prefix  string
	cutover int
}

// NewResultArchiver creates an archiver writing under the given key prefix
// ("results" by default).
func NewResultArchiver(c *Client, prefix string) *ResultArchiver {
	if prefix == "" {
		prefix = "results"
	}
	return &ResultArchiver{putter: NewWriter(c), prefix: prefix, cutover: multipartCutover}
}

// ArchiveResult uploads one result as {prefix}/YYYY/MM/DD/{orderID}.json.
// Payloads above the multipart cutover upload in parts.
func (a *ResultArchiver) ArchiveResult(ctx context.Context, result domain.ExecutionResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal result %s: %w", result.OrderID, err)
	}

	key := fmt.Sprintf("%s/%s/%s.json",
		a.prefix,
		result.FinishedAt.UTC().Format("2006/01/02"),
		result.OrderID,
	)
	var putErr error
	if len(data) >= a.cutover {
		putErr = a.putter.PutMultipart(ctx, key, bytes.NewReader(data), "application/json", minPartSize)
	} else {
		putErr = a.putter.Put(ctx, key, bytes.NewReader(data), "application/json")
	}
	if putErr != nil {
		return fmt.Errorf("s3blob: archive result %s: %w", result.OrderID, putErr)
	}
	return nil
}
