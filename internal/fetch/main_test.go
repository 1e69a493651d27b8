package fetch

import (
	"os"
	"testing"

	"github.com/shiranui/newsdigest/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}
