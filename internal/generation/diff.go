package generation

import (
	"fmt"
	"sort"
	"strings"

	"musehub.io/musehub/internal/domain"
)

// ComputeVariation diffs the working copy against its base snapshot
// and returns unsequenced phrases in deterministic order: project
// settings first, then regions by track/startBeat/id, then mixer
// moves by track id. The runner stamps ids and sequence numbers as it
// publishes.
func (vc *VariationContext) ComputeVariation() []domain.Phrase {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	var phrases []domain.Phrase

	if p, ok := vc.projectPhraseLocked(); ok {
		phrases = append(phrases, p)
	}
	for _, id := range vc.sortedRegionIDs() {
		if p, ok := vc.regionPhraseLocked(vc.regions[id]); ok {
			phrases = append(phrases, p)
		}
	}
	phrases = append(phrases, vc.mixerPhrasesLocked()...)
	return phrases
}

func (vc *VariationContext) projectPhraseLocked() (domain.Phrase, bool) {
	var p domain.Phrase
	changed := false
	if vc.tempo != vc.base.Tempo {
		p.TempoChange = &domain.TempoChange{FromBPM: vc.base.Tempo, ToBPM: vc.tempo}
		changed = true
	}
	if vc.key != vc.base.Key {
		p.KeyChange = &domain.KeyChange{FromKey: vc.base.Key, ToKey: vc.key}
		changed = true
	}
	if !changed {
		return domain.Phrase{}, false
	}
	p.Label = "Project settings"
	var parts []string
	if p.TempoChange != nil {
		parts = append(parts, fmt.Sprintf("tempo %g to %g BPM", p.TempoChange.FromBPM, p.TempoChange.ToBPM))
	}
	if p.KeyChange != nil {
		parts = append(parts, fmt.Sprintf("key %s to %s", p.KeyChange.FromKey, p.KeyChange.ToKey))
	}
	p.Explanation = strings.Join(parts, "; ")
	return p, true
}

func (vc *VariationContext) regionPhraseLocked(r *workRegion) (domain.Phrase, bool) {
	var baseNotes []domain.Note
	var baseCtrls []domain.ControllerEvent
	if snap, ok := vc.base.Regions[r.id]; ok {
		baseNotes = snap.Notes
		baseCtrls = snap.Controllers
	}

	noteChanges := diffNotes(baseNotes, r.notes)
	ctrlChanges := diffControllers(baseCtrls, r.ctrls)
	if len(noteChanges) == 0 && len(ctrlChanges) == 0 && !r.created {
		return domain.Phrase{}, false
	}

	trackName := ""
	if t, ok := vc.tracks[r.trackID]; ok {
		trackName = t.name
	}
	p := domain.Phrase{
		TrackID:       r.trackID,
		TrackName:     trackName,
		RegionID:      r.id,
		RegionName:    r.name,
		StartBeat:     r.startBeat,
		DurationBeats: r.durationBeats,
		Label:         phraseLabel(r.name, trackName),
		Explanation:   changeSummary(noteChanges, ctrlChanges, r.created),
		NoteChanges:   noteChanges,
		CtrlChanges:   ctrlChanges,
	}
	return p, true
}

func (vc *VariationContext) mixerPhrasesLocked() []domain.Phrase {
	ids := make([]string, 0, len(vc.tracks))
	for id, t := range vc.tracks {
		if t.changed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []domain.Phrase
	for _, id := range ids {
		t := vc.tracks[id]
		from := domain.TrackLevels{}
		if snap, ok := vc.base.Tracks[id]; ok {
			from = snap.Levels
		}
		if from == t.levels {
			continue
		}
		out = append(out, domain.Phrase{
			TrackID:   id,
			TrackName: t.name,
			Label:     "Mix: " + t.name,
			Explanation: fmt.Sprintf("volume %.2f to %.2f, pan %.2f to %.2f",
				from.Volume, t.levels.Volume, from.Pan, t.levels.Pan),
			LevelsChange: &domain.LevelsChange{From: from, To: t.levels},
		})
	}
	return out
}

func diffNotes(base, work []domain.Note) []domain.NoteChange {
	baseByID := make(map[string]domain.Note, len(base))
	for _, n := range base {
		baseByID[n.ID] = n
	}
	workIDs := make(map[string]struct{}, len(work))

	var changes []domain.NoteChange
	for _, n := range work {
		workIDs[n.ID] = struct{}{}
		prev, existed := baseByID[n.ID]
		if !existed {
			changes = append(changes, domain.NoteChange{Type: domain.ChangeAdded, Note: n})
			continue
		}
		if prev != n {
			p := prev
			changes = append(changes, domain.NoteChange{Type: domain.ChangeModified, Note: n, Prev: &p})
		}
	}
	for _, n := range base {
		if _, kept := workIDs[n.ID]; !kept {
			p := n
			changes = append(changes, domain.NoteChange{Type: domain.ChangeRemoved, Note: n, Prev: &p})
		}
	}
	return changes
}

// diffControllers treats controller lanes as append-only: the working
// copy can only gain events, so anything past the base length is new.
func diffControllers(base, work []domain.ControllerEvent) []domain.ControllerChange {
	if len(work) <= len(base) {
		return nil
	}
	var changes []domain.ControllerChange
	for _, ev := range work[len(base):] {
		changes = append(changes, domain.ControllerChange{Type: domain.ChangeAdded, Event: ev})
	}
	return changes
}

func phraseLabel(regionName, trackName string) string {
	if trackName == "" {
		return regionName
	}
	if regionName == "" {
		return trackName
	}
	return trackName + ": " + regionName
}

func changeSummary(notes []domain.NoteChange, ctrls []domain.ControllerChange, created bool) string {
	var added, removed, modified int
	for _, c := range notes {
		switch c.Type {
		case domain.ChangeAdded:
			added++
		case domain.ChangeRemoved:
			removed++
		case domain.ChangeModified:
			modified++
		}
	}
	var parts []string
	if created {
		parts = append(parts, "new region")
	}
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d notes added", added))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("%d notes removed", removed))
	}
	if modified > 0 {
		parts = append(parts, fmt.Sprintf("%d notes modified", modified))
	}
	if len(ctrls) > 0 {
		parts = append(parts, fmt.Sprintf("%d controller events", len(ctrls)))
	}
	return strings.Join(parts, ", ")
}
