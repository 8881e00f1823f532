// Package placer derives destination filenames from classification results
// and renames documents in place, atomically and without overwriting.
package placer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

const (
	// maxConflictAttempts bounds the _N suffix search so a pathological
	// directory cannot spin the rename forever.
	maxConflictAttempts = 100

	defaultMaxStemLength = 180
)

// DefaultPriorityKeys is the identifier preference order for the leading
// name component. The first key present in the classification wins.
var DefaultPriorityKeys = []string{
	"plaintiff_name",
	"plaintiff",
	"primary_subject",
	"patient_name",
	"client_name",
	"case_number",
	"date_of_injury",
	"report_date",
	"evaluator_name",
}

type Config struct {
	// SourcePrefix is stripped from the original basename when building
	// prefixed names like ERROR_<rest>.
	SourcePrefix string
	// PriorityKeys overrides DefaultPriorityKeys when non-empty.
	PriorityKeys []string
	// MaxStemLength truncates the filename stem; zero means the default.
	MaxStemLength int
}

type Placer struct {
	sourcePrefix string
	priorityKeys []string
	maxStem      int
	logger       *slog.Logger
	now          func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Placer {
	if logger == nil {
		logger = slog.Default()
	}
	keys := cfg.PriorityKeys
	if len(keys) == 0 {
		keys = DefaultPriorityKeys
	}
	maxStem := cfg.MaxStemLength
	if maxStem <= 0 {
		maxStem = defaultMaxStemLength
	}
	return &Placer{
		sourcePrefix: cfg.SourcePrefix,
		priorityKeys: keys,
		maxStem:      maxStem,
		logger:       logger,
		now:          time.Now,
	}
}

// Place renames originalPath into
// <date>_<priority identifier>_<type label>_<remaining identifiers><ext>
// inside the same directory. The returned path is the final name after
// conflict resolution.
func (p *Placer) Place(ctx context.Context, originalPath string, cls domain.Classification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stem := p.buildStem(cls)
	if stem == "" {
		return "", domain.WrapError(domain.ErrPermanent, "place file",
			errors.New("classification produced an empty filename"))
	}
	return p.renameTo(originalPath, stem)
}

// PlacePrefixed renames originalPath to <prefix><basename without the source
// prefix>, used for ERROR_ and UNKNOWN_ outcomes where no classification is
// available.
func (p *Placer) PlacePrefixed(ctx context.Context, originalPath, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	rest := strings.TrimSuffix(base, ext)
	if p.sourcePrefix != "" {
		rest = strings.TrimPrefix(rest, p.sourcePrefix)
	}

	stem := sanitizeComponent(prefix + rest)
	if stem == "" {
		return "", domain.WrapError(domain.ErrPermanent, "place file",
			errors.New("prefixed rename produced an empty filename"))
	}
	return p.renameTo(originalPath, stem)
}

func (p *Placer) buildStem(cls domain.Classification) string {
	parts := []string{p.now().Format("20060102")}

	priorityKey := ""
	for _, key := range p.priorityKeys {
		if value, ok := cls.Identifier(key); ok && strings.TrimSpace(value) != "" {
			parts = append(parts, sanitizeComponent(value))
			priorityKey = key
			break
		}
	}

	parts = append(parts, sanitizeComponent(cls.Category.Label()))

	// Remaining identifiers follow the priority list first, then whatever
	// order the classifier returned the rest in.
	used := map[string]bool{priorityKey: true}
	for _, key := range p.priorityKeys {
		if used[key] {
			continue
		}
		value, ok := cls.Identifier(key)
		if !ok {
			continue
		}
		used[key] = true
		if clean := sanitizeComponent(value); clean != "" {
			parts = append(parts, clean)
		}
	}
	for _, id := range cls.Identifiers {
		if used[id.Key] {
			continue
		}
		if clean := sanitizeComponent(id.Value); clean != "" {
			parts = append(parts, clean)
		}
	}

	joined := strings.Join(compactParts(parts), "_")
	if len(joined) > p.maxStem {
		joined = strings.TrimRight(joined[:p.maxStem], "_")
	}
	return joined
}

// renameTo performs the conflict-safe atomic rename and verifies the result
// landed where expected.
func (p *Placer) renameTo(originalPath, stem string) (string, error) {
	dir := filepath.Dir(originalPath)
	ext := filepath.Ext(originalPath)

	target := ""
	for attempt := 0; attempt < maxConflictAttempts; attempt++ {
		name := stem
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d", stem, attempt)
		}
		candidate := filepath.Join(dir, name+ext)
		if candidate == originalPath {
			return originalPath, nil
		}
		if _, err := os.Stat(candidate); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("probe rename target %s: %w", candidate, err)
		}
		target = candidate
		break
	}
	if target == "" {
		return "", domain.WrapError(domain.ErrPermanent, "place file",
			fmt.Errorf("no free name for %s after %d attempts", stem, maxConflictAttempts))
	}

	if err := os.Rename(originalPath, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", filepath.Base(originalPath), err)
	}
	// Open rather than stat: the contract is that the new path is readable
	// before any cleanup of the item proceeds.
	f, err := os.Open(target)
	if err != nil {
		return "", domain.WrapError(domain.ErrCritical, "place file",
			fmt.Errorf("renamed file not readable at %s: %w", target, err))
	}
	f.Close()

	p.logger.Info("file_renamed",
		"from", filepath.Base(originalPath),
		"to", filepath.Base(target),
	)
	return target, nil
}

// sanitizeComponent keeps letters, digits, hyphens and underscores; every
// other rune becomes an underscore. Runs collapse so names stay readable.
func sanitizeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func compactParts(parts []string) []string {
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
