package memstore

import (
	"testing"

	"github.com/mycelian/mycelian-chat/internal/store"
	"github.com/mycelian/mycelian-chat/internal/store/storetest"
)

func TestMemStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
