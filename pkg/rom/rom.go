// Package rom reads and patches N64 ROM images and the insertable binary
// transfer format.
package rom

import (
	"fmt"

	"go.uber.org/zap"
)

var log = zap.NewNop()

// SetLogger installs the logger used by the package. A nil logger disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}

// Hex formats an address the way ROM offsets are usually written.
func Hex(addr uint32) string {
	return fmt.Sprintf("0x%08X", addr)
}
