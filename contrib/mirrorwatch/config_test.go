package mirrorwatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/contrib/mirrorwatch"
)

func TestNewConfig(t *testing.T) {
	config := mirrorwatch.NewConfig()
	assert.NotNil(t, config)
	assert.Equal(t, "mongodb://localhost:27017", config.URI)
	assert.Equal(t, ":8080", config.Listen)
	assert.Equal(t, "/watch", config.Path)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		config := &mirrorwatch.Config{
			URI:        "mongodb://localhost:27017",
			Database:   "app",
			Collection: "widgets",
		}
		assert.NoError(t, config.Validate())
	})

	t.Run("MissingURI", func(t *testing.T) {
		config := &mirrorwatch.Config{Database: "app", Collection: "widgets"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "uri is required")
	})

	t.Run("MissingDatabase", func(t *testing.T) {
		config := &mirrorwatch.Config{URI: "mongodb://localhost:27017", Collection: "widgets"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database is required")
	})

	t.Run("MissingCollection", func(t *testing.T) {
		config := &mirrorwatch.Config{URI: "mongodb://localhost:27017", Database: "app"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "collection is required")
	})
}
