package memstore

import (
	"testing"

	"github.com/zero-day-ai/protomodel"
	"github.com/zero-day-ai/protomodel/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) protomodel.Store {
		return New()
	})
}
