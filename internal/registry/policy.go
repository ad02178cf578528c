package registry

import (
	"net/url"
	"strings"

	"github.com/hearthai/hearth/internal/core"
)

// PolicyConfig holds the registry's download policy inputs: which hosts a
// download may come from, and whether models over a given size require
// explicit consent before the download proceeds.
type PolicyConfig struct {
	AllowlistHosts     []string
	ConsentThresholdGB float64
}

// EvaluateDownload checks a requested source URL and expected size against
// policy and returns the decision the caller must act on before a download
// job is enqueued.
func EvaluateDownload(cfg PolicyConfig, rawURL string, expectedSizeBytes int64, revision, sha256 string) core.DownloadPolicyDecision {
	decision := core.DownloadPolicyDecision{Revision: revision, ExpectedSHA256: sha256}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		decision.Allowed = false
		decision.Warnings = append(decision.Warnings, "source URL could not be parsed")
		return decision
	}

	if len(cfg.AllowlistHosts) > 0 && !hostAllowed(u.Hostname(), cfg.AllowlistHosts) {
		decision.Allowed = false
		decision.Warnings = append(decision.Warnings, "host "+u.Hostname()+" is not in the configured allowlist")
		return decision
	}

	decision.Allowed = true
	if sha256 == "" {
		decision.Warnings = append(decision.Warnings, "no checksum supplied; integrity cannot be verified after download")
	}

	thresholdBytes := int64(cfg.ConsentThresholdGB * 1024 * 1024 * 1024)
	if thresholdBytes > 0 && expectedSizeBytes > thresholdBytes {
		decision.RequiresConsent = true
		decision.Warnings = append(decision.Warnings, "model exceeds the configured size threshold and requires explicit consent")
	}
	return decision
}

func hostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(host)
	for _, a := range allowlist {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
