package engine

import (
	"context"
	"fmt"
)

// Pending is a package whose published version is newer than the recorded one.
type Pending struct {
	RepoID      string
	PackageName string
	Stored      int64
	Observed    int64
	// ArtifactMissing is set when the pass would suppress the announcement.
	ArtifactMissing bool
}

// Pending lists updates the next pass would announce. It never sends or writes.
// Packages never seen before are not listed; a pass only records them.
func (e *Engine) Pending(ctx context.Context, repos []Repository) ([]Pending, error) {
	var out []Pending
	for _, repo := range repos {
		idx, err := repo.Layout.LoadIndex()
		if err != nil {
			return out, fmt.Errorf("repo %s: %w", repo.ID, err)
		}
		for _, app := range idx.Apps {
			if e.opts.Package != "" && app.PackageName != e.opts.Package {
				continue
			}
			stored, seen, err := e.store.Get(ctx, repo.ID, app.PackageName)
			if err != nil {
				return out, fmt.Errorf("repo %s: %s: %w", repo.ID, app.PackageName, err)
			}
			observed := int64(app.SuggestedVersionCode)
			if !seen || stored >= observed {
				continue
			}
			out = append(out, Pending{
				RepoID:          repo.ID,
				PackageName:     app.PackageName,
				Stored:          stored,
				Observed:        observed,
				ArtifactMissing: !repo.Layout.ArtifactExists(app.PackageName, app.SuggestedVersionCode),
			})
		}
	}
	return out, nil
}
