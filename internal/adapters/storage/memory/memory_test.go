package memory_test

import (
	"testing"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/adapters/storage/memory"
	"github.com/okian/scoreboard/internal/adapters/storage/storagetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Store { return memory.New() })
}
