package scriptbridge

import (
	"context"
	"fmt"
)

// ObjectStore is the narrow read/write surface the bridge's keywords need
// from object storage. The S3-backed implementation in appstate satisfies
// this; tests use an in-memory fake.
type ObjectStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// DriveKey builds the stable external bucket-key contract
// "s3://<bot_name>.gbai/<bot_name>.gbdrive/<path>".
func DriveKey(botName, path string) string {
	return fmt.Sprintf("s3://%s.gbai/%s.gbdrive/%s", botName, botName, path)
}
