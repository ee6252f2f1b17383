// File: internal/agent/main_test.go
package agent_test

import (
	"fmt"
	"os"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
)

// TestMain installs the global logger for the package's tests and checks that
// no session leaves goroutines behind.
func TestMain(m *testing.M) {
	appConfig := config.NewDefaultConfig()
	logConfig := appConfig.Logger()
	logConfig.Level = "debug"
	logConfig.ServiceName = "test-suite"
	logConfig.Format = "console"

	observability.Initialize(logConfig, zapcore.Lock(os.Stdout))

	exitCode := m.Run()

	observability.Sync()
	observability.ResetForTest()

	if exitCode == 0 {
		if err := goleak.Find(); err != nil {
			fmt.Fprintf(os.Stderr, "goleak: errors on successful test run: %v\n", err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
