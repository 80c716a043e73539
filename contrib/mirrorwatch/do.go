package mirrorwatch

import (
	"context"
	"fmt"
	"net/http"
	"os"

	rawzerolog "github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mirror "github.com/hamptonsmith/local-mongodb-collection-mirror"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/logger/zerolog"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote/mongodb"
)

// Do mirrors the configured collection and serves change frames to websocket
// clients until ctx is cancelled or the source collection is invalidated.
func Do(ctx context.Context, config *Config) error {
	level := rawzerolog.InfoLevel
	if config.Verbose {
		level = rawzerolog.DebugLevel
	}
	log := zerolog.New(rawzerolog.New(os.Stderr).Level(level).With().Timestamp().Logger())

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", config.URI, err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Warn("failed to disconnect mongo client", "error", err)
		}
	}()

	coll := client.Database(config.Database).Collection(config.Collection)

	m := mirror.New(ctx, mongodb.New(coll), &mirror.Options{Logger: log})
	defer func() {
		if err := m.Close(context.Background()); err != nil {
			log.Warn("failed to close mirror", "error", err)
		}
	}()

	if err := m.WaitUntilReady(ctx); err != nil {
		return fmt.Errorf("mirror never became ready: %w", err)
	}
	log.Info("mirror ready", "documents", m.Len())

	broadcaster := NewBroadcaster(log)
	defer broadcaster.Close()

	invalidated := make(chan struct{})
	m.OnChanged(func(_ *mirror.Mirror, key string) {
		broadcaster.Publish(Frame{Kind: "changed", Key: key})
	})
	m.OnInvalidated(func(*mirror.Mirror, remote.ChangeEvent) {
		broadcaster.Publish(Frame{Kind: "invalidated"})
		close(invalidated)
	})

	mux := http.NewServeMux()
	mux.Handle(config.Path, broadcaster)
	server := &http.Server{Addr: config.Listen, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("serving websocket clients", "addr", config.Listen, "path", config.Path)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	case <-invalidated:
		log.Info("source collection invalidated, shutting down")
		_ = server.Shutdown(context.Background())
		return nil
	case err := <-serveErr:
		return fmt.Errorf("websocket server failed: %w", err)
	}
}
