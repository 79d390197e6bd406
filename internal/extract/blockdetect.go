package extract

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot protection detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock checks a fetched product page for signs of bot protection.
// A blocked page still flows through the stage as a soft failure; the
// resulting low confidence is what triggers escalation to the paid stages.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == 403 || resp.StatusCode == 503 {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "recaptcha") ||
		strings.Contains(lower, "hcaptcha") ||
		strings.Contains(lower, "robot check") {
		return true, BlockCaptcha
	}

	// JS-only shell: tiny body that tells us to enable JavaScript.
	if len(body) < 2000 && strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
		return true, BlockJSShell
	}

	return false, BlockNone
}
