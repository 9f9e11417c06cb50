// Package artifacts is the tenant-scoped durable blob store. Every write in
// strict mode lands under org/<org>/projects/<project>/; memos, checkpoints
// and post-mortem reports all flow through here.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

func errTenant(detail string) error {
	return qerr.TenantRequired(detail)
}

// WriteReceipt is returned by every successful write.
type WriteReceipt struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// BlobInfo describes one stored blob in a listing.
type BlobInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the tenant artifact store contract. Put enforces the tenant
// prefix; Get and List operate on fully-qualified blob names so the report
// surface can scan arbitrary prefixes it is entitled to.
type Store interface {
	Put(ctx context.Context, org, project, logicalPath string, data []byte, contentType string) (*WriteReceipt, error)
	Get(ctx context.Context, container, blobName string) ([]byte, error)
	List(ctx context.Context, container, prefix string, limit int) ([]BlobInfo, error)
	DeletePrefix(ctx context.Context, container, prefix string) (int, error)
	Container() string
}

// TenantPrefix builds the mandatory storage prefix for a tenant.
func TenantPrefix(org, project string) string {
	return path.Join("org", org, "projects", project) + "/"
}

// blobName resolves the final blob name for a write, enforcing strict-mode
// tenancy. In non-strict mode an orgless write is allowed and the caller is
// expected to have logged the waiver.
func blobName(org, project, logicalPath string, strict bool) (string, error) {
	logicalPath = strings.TrimPrefix(logicalPath, "/")
	if strings.Contains(logicalPath, "..") {
		return "", errTenant("logical path escapes the tenant prefix")
	}
	if project == "" {
		return "", errTenant("project id is empty")
	}
	if org == "" {
		if strict {
			return "", errTenant("org id is empty in strict mode")
		}
		return path.Join("orgless", "projects", project, logicalPath), nil
	}
	return path.Join("org", org, "projects", project, logicalPath), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Runner artifact path helpers; the layout is part of the external contract.

// CheckpointPath is the logical path of a runner checkpoint blob.
func CheckpointPath(project, taskID string) string {
	return fmt.Sprintf("logs/runner_checkpoints/%s/%s.json", project, taskID)
}

// RunnerReportPath is the logical path of a runner post-mortem report.
func RunnerReportPath(project, taskID string) string {
	return fmt.Sprintf("logs/runner_reports/%s/%s.json", project, taskID)
}

// RunnerMemoPath names a per-step runner memo. Slugs keep blob names safe.
func RunnerMemoPath(project, archivo string, step, intra int, code string, ts time.Time) string {
	return fmt.Sprintf("notes/%s/runner_semantic/%s_semantic_runner_%s_s%d_i%d_%s.md",
		project, ts.UTC().Format("20060102T150405Z"), Slug(archivo), step, intra, Slug(code))
}

// RunnerMemoPrefix is the listing prefix for a project's runner memos.
func RunnerMemoPrefix(project string) string {
	return fmt.Sprintf("notes/%s/runner_semantic/", project)
}

var accentFold = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// Slug lowercases and strips a name down to [a-z0-9-] for blob naming.
// Spanish accents fold to their base letter so interview names stay legible.
func Slug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range accentFold.Replace(strings.ToLower(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
