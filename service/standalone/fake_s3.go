package standalone

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// serveFakeS3 binds in-memory s3 to port and creates versioned buckets.
// Listener is bound before return so clients can connect right away.
func serveFakeS3(ctx context.Context, port int, buckets ...string) (func() error, error) {
	backend := s3mem.New()
	for _, b := range buckets {
		if err := backend.CreateBucket(b); err != nil {
			return nil, fmt.Errorf("%w: unable to create fake s3 bucket %q", err, b)
		}
		err := backend.SetVersioningConfiguration(b, gofakes3.VersioningConfiguration{Status: gofakes3.VersioningEnabled})
		if err != nil {
			return nil, fmt.Errorf("%w: unable to enable versioning on fake s3 bucket %q", err, b)
		}
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", gofakes3.New(backend).Server())
	server := http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return func() error {
		err := server.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, nil
}
