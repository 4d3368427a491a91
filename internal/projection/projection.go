// Package projection deterministically rewrites the machine-managed zones
// of a Markdown artifact from the canonical document plus the audit tail.
// Zones are located by literal marker strings, never by Markdown parsing,
// so the round trip stays byte-exact.
package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/iambrandonn/statekeeper/internal/fsutil"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

// Managed zones
const (
	HeadingCanonical = "Canonical State (Machine Managed)"
	HeadingChangeLog = "State Change Log (Machine Managed)"
	ZoneCanonical    = "canonical_state"
	ZoneChangeLog    = "state_change_log"
)

// ChangeLogLines is how many audit bullets the change-log zone carries
const ChangeLogLines = 20

// Result reports one projection pass
type Result struct {
	Wrote     bool     `json:"wrote"`
	CheckOnly bool     `json:"check_only"`
	Drift     []string `json:"drift,omitempty"` // section headings that drifted
}

// Projector renders and writes the projection artifact
type Projector struct {
	store    *store.Store
	artifact string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a projector targeting the artifact at path
func New(st *store.Store, artifactPath string, logger *slog.Logger) *Projector {
	return &Projector{store: st, artifact: artifactPath, logger: logger, now: time.Now}
}

// Project rewrites both zones. With checkOnly it reports drift without
// touching the artifact or the document. Re-projecting unchanged inputs is
// a no-op: no write, no audit line.
func (p *Projector) Project(checkOnly bool) (*Result, error) {
	doc, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	auditTail, err := p.store.AuditTail(ChangeLogLines)
	if err != nil {
		return nil, err
	}

	canonicalBody := renderCanonical(doc)
	changeLogBody := renderChangeLog(auditTail)

	existing, err := os.ReadFile(p.artifact)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	content := string(existing)

	result := &Result{CheckOnly: checkOnly}

	zones := []struct {
		heading string
		zoneID  string
		body    string
	}{
		{HeadingCanonical, ZoneCanonical, canonicalBody},
		{HeadingChangeLog, ZoneChangeLog, changeLogBody},
	}

	var drifted []string
	for _, z := range zones {
		existingBody, found := extractZone(content, z.zoneID)
		if !found {
			continue
		}
		existingHash := hashBody(existingBody)
		persisted := doc.Runtime.ProjectionHashes[z.heading]
		if persisted != "" && existingHash != persisted && existingHash != hashBody(z.body) {
			drifted = append(drifted, z.heading)
		}
	}
	result.Drift = drifted

	rebuilt := rebuild(content, zones)
	if rebuilt == content && len(drifted) == 0 {
		p.logger.Debug("projection unchanged", "artifact", p.artifact)
		return result, nil
	}

	if checkOnly {
		return result, nil
	}

	for _, heading := range drifted {
		audit := fmt.Sprintf("drift_detected | section=%s | action=reconcile", heading)
		if err := p.store.AppendAudit(audit); err != nil {
			return nil, err
		}
	}

	if doc.Runtime.ProjectionMode == state.ProjectionModeLegacyString && len(existing) > 0 {
		backup := p.artifact + ".bak"
		if err := fsutil.AtomicWrite(backup, existing); err != nil {
			return nil, fmt.Errorf("failed to write pre-projection backup: %w", err)
		}
		p.logger.Warn("legacy projection mode, backup written", "backup", backup)
	}

	if err := fsutil.AtomicWrite(p.artifact, []byte(rebuilt)); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	for _, z := range zones {
		doc.Runtime.ProjectionHashes[z.heading] = hashBody(z.body)
	}
	if err := p.store.Save(doc); err != nil {
		return nil, err
	}

	result.Wrote = true
	p.logger.Info("projection written", "artifact", p.artifact, "drift", len(drifted))
	return result, nil
}

// renderCanonical enumerates committed records in (entity, domain, field)
// order, then the pending confirmations by created_at.
func renderCanonical(doc *state.Document) string {
	var lines []string

	entityIDs := make([]string, 0, len(doc.Entities))
	for id := range doc.Entities {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	for _, entityID := range entityIDs {
		entity := doc.Entities[entityID]
		domains := make([]string, 0, len(entity.State))
		for d := range entity.State {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		for _, domain := range domains {
			fields := make([]string, 0, len(entity.State[domain]))
			for f := range entity.State[domain] {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			for _, field := range fields {
				rec := entity.State[domain][field]
				lines = append(lines, fmt.Sprintf("- [%s] %s.%s = %s (confidence=%.2f, source=%s)",
					entityID, domain, field, state.FormatValue(rec.Value), rec.Confidence, rec.Source))
			}
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "- No committed state yet.")
	}

	lines = append(lines, "", "### Pending Confirmations", "")

	prompts := make([]*state.PendingPrompt, 0, len(doc.PendingConfirmations))
	for _, prompt := range doc.PendingConfirmations {
		prompts = append(prompts, prompt)
	}
	sort.Slice(prompts, func(i, j int) bool {
		if prompts[i].CreatedAt != prompts[j].CreatedAt {
			return prompts[i].CreatedAt < prompts[j].CreatedAt
		}
		return prompts[i].PromptID < prompts[j].PromptID
	})
	if len(prompts) == 0 {
		lines = append(lines, "- None")
	}
	for _, prompt := range prompts {
		lines = append(lines, fmt.Sprintf("- [%s] %s (prompt_id=%s, confidence=%.2f)",
			prompt.EntityID, prompt.ProposedChange, shortID(prompt.PromptID), prompt.Confidence))
	}

	return strings.Join(lines, "\n")
}

// renderChangeLog lists the most recent audit bullets, oldest first
func renderChangeLog(auditTail []string) string {
	if len(auditTail) == 0 {
		return "- No state changes yet."
	}
	return strings.Join(auditTail, "\n")
}

func beginMarker(zoneID string) string {
	return fmt.Sprintf("<!-- STATE:BEGIN zone_id=%s schema=v1 -->", zoneID)
}

func endMarker(zoneID string) string {
	return fmt.Sprintf("<!-- STATE:END zone_id=%s -->", zoneID)
}

// extractZone returns the body between a zone's literal markers
func extractZone(content, zoneID string) (string, bool) {
	begin := beginMarker(zoneID)
	end := endMarker(zoneID)

	beginIdx := strings.Index(content, begin)
	if beginIdx < 0 {
		return "", false
	}
	rest := content[beginIdx+len(begin):]
	endIdx := strings.Index(rest, end)
	if endIdx < 0 {
		return "", false
	}
	body := rest[:endIdx]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")
	return body, true
}

// rebuild strips every managed section (and stray marker blocks) from the
// artifact, then appends freshly rendered blocks at the end.
func rebuild(content string, zones []struct {
	heading string
	zoneID  string
	body    string
}) string {
	for _, z := range zones {
		content = removeSection(content, z.heading, z.zoneID)
	}

	content = strings.TrimRight(content, "\n")

	var b strings.Builder
	if content != "" {
		b.WriteString(content)
		b.WriteString("\n")
	}
	for _, z := range zones {
		b.WriteString("\n## ")
		b.WriteString(z.heading)
		b.WriteString("\n\n")
		b.WriteString(beginMarker(z.zoneID))
		b.WriteString("\n")
		b.WriteString(z.body)
		b.WriteString("\n")
		b.WriteString(endMarker(z.zoneID))
		b.WriteString("\n")
	}
	return b.String()
}

// removeSection drops a managed heading section, including any duplicate
// occurrences and marker blocks left by older writers.
func removeSection(content, heading, zoneID string) string {
	headingLine := "## " + heading
	for {
		idx := strings.Index(content, headingLine)
		endM := endMarker(zoneID)
		if idx >= 0 {
			rest := content[idx:]
			endIdx := strings.Index(rest, endM)
			if endIdx >= 0 {
				content = content[:idx] + rest[endIdx+len(endM):]
				content = strings.TrimLeft(content, "\n")
				continue
			}
			// Heading without an end marker: drop through the next heading
			// or to EOF.
			next := strings.Index(rest[len(headingLine):], "\n## ")
			if next >= 0 {
				content = content[:idx] + rest[len(headingLine)+next+1:]
			} else {
				content = content[:idx]
			}
			continue
		}
		// Marker block without its heading
		beginIdx := strings.Index(content, beginMarker(zoneID))
		if beginIdx < 0 {
			return content
		}
		rest := content[beginIdx:]
		endIdx := strings.Index(rest, endM)
		if endIdx < 0 {
			return content[:beginIdx]
		}
		content = content[:beginIdx] + rest[endIdx+len(endM):]
	}
}

func hashBody(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
