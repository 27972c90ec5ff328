package hooks

import (
	"bytes"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/stacklok/volta/pkg/logger"
)

// eventPublishTimeout bounds the whole publish attempt; event delivery must
// never hold up the invocation noticeably.
const eventPublishTimeout = 5 * time.Second

// PublishEvents delivers an event batch through the events.publish hook,
// best-effort: failures are logged at debug level and swallowed. A bin hook
// receives the batch on stdin; a prefix or template hook names a URL the
// batch is POSTed to.
func (c *Config) PublishEvents(payload []byte) {
	if c == nil || c.Events.Publish == nil {
		return
	}
	h := c.Events.Publish

	if h.Bin != "" {
		bin := h.Bin
		if strings.HasPrefix(bin, "./") || strings.HasPrefix(bin, "../") {
			bin = filepath.Join(h.baseDir, bin)
		}
		cmd := exec.Command(bin, h.Args...) // #nosec G204 - the hook command comes from the user's own hooks.json
		cmd.Dir = h.baseDir
		cmd.Stdin = bytes.NewReader(payload)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			logger.Debugf("event publish hook failed: %v", err)
		}
		return
	}

	url, err := h.Resolve(Vars{})
	if err != nil {
		logger.Debugf("event publish hook failed: %v", err)
		return
	}

	client := &http.Client{Timeout: eventPublishTimeout}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Debugf("event publish hook failed: %v", err)
		return
	}
	_ = resp.Body.Close()
}
