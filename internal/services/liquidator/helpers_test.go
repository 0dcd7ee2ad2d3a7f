package liquidator

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// logBuffer is a concurrency-safe log sink for asserting on log lines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) count(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), substr)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func account(n int) entity.AccountID {
	return common.HexToAddress(fmt.Sprintf("0x%040x", 0x1000+n))
}

var (
	testUSDC = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	testWETH = common.HexToAddress("0x4200000000000000000000000000000000000006")
)

func testConfig() Config {
	logger, _ := newTestLogger()
	return Config{
		BackfillWindow:  400,
		BackfillChunk:   100,
		BackfillDelay:   time.Millisecond,
		BatchSize:       5,
		EvictAfter:      3,
		BorrowAsset:     testUSDC,
		CollateralAsset: testWETH,
		Seed:            42,
		StatusInterval:  time.Hour,
		AwaitTimeout:    time.Second,
		Logger:          logger,
	}
}
