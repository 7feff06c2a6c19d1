package memory_test

import (
	"testing"

	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/store/memory"
	"github.com/warp/schedule-engine/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) schedule.Store { return memory.New() })
}
