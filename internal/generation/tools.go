package generation

import (
	"context"
	"encoding/json"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/provider"
)

// Typed parameter structs, one per tool. Args are narrowed exactly once
// here; everything past this point is plain Go values.

type setTempoParams struct {
	BPM float64 `json:"bpm"`
}

type setKeyParams struct {
	Key string `json:"key"`
}

type createRegionParams struct {
	Track         string  `json:"track"`
	Name          string  `json:"name"`
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
}

type addNotesParams struct {
	Region string        `json:"region"`
	Notes  []domain.Note `json:"notes"`
}

type removeNotesParams struct {
	Region  string   `json:"region"`
	NoteIDs []string `json:"noteIds"`
}

type updateNotesParams struct {
	Region string        `json:"region"`
	Notes  []domain.Note `json:"notes"`
}

type addControllerEventsParams struct {
	Region string                   `json:"region"`
	Events []domain.ControllerEvent `json:"events"`
}

type setTrackVolumeParams struct {
	Track  string  `json:"track"`
	Volume float64 `json:"volume"`
}

type setTrackPanParams struct {
	Track string  `json:"track"`
	Pan   float64 `json:"pan"`
}

func narrow(args json.RawMessage, into interface{}) error {
	if err := json.Unmarshal(args, into); err != nil {
		return apperrors.Unprocessable(apperrors.CodeValidationFailed,
			"tool args do not match the expected shape: "+err.Error())
	}
	return nil
}

// ExecuteCall applies one validated tool call to the working copy.
// The context deadline is the per-call timeout; it is checked before
// taking the lock so a timed-out call never mutates anything.
func (vc *VariationContext) ExecuteCall(ctx context.Context, call provider.ToolCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()

	var err error
	switch call.Name {
	case "muse_set_tempo":
		err = vc.applySetTempo(call.Args)
	case "muse_set_key":
		err = vc.applySetKey(call.Args)
	case "muse_create_region":
		err = vc.applyCreateRegion(call.Args)
	case "muse_add_notes":
		err = vc.applyAddNotes(call.Args)
	case "muse_remove_notes":
		err = vc.applyRemoveNotes(call.Args)
	case "muse_update_notes":
		err = vc.applyUpdateNotes(call.Args)
	case "muse_add_controller_events":
		err = vc.applyAddControllerEvents(call.Args)
	case "muse_set_track_volume":
		err = vc.applySetTrackVolume(call.Args)
	case "muse_set_track_pan":
		err = vc.applySetTrackPan(call.Args)
	default:
		err = apperrors.Unprocessable(apperrors.CodeValidationFailed, "unknown tool: "+call.Name)
	}

	if err != nil {
		vc.recordFailureLocked(call, err)
		return err
	}
	vc.applied++
	return nil
}

func (vc *VariationContext) applySetTempo(args json.RawMessage) error {
	var p setTempoParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	if p.BPM < 20 || p.BPM > 400 {
		return apperrors.Unprocessable(apperrors.CodeValidationFailed, "tempo out of range")
	}
	vc.tempo = p.BPM
	return nil
}

func (vc *VariationContext) applySetKey(args json.RawMessage) error {
	var p setKeyParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	if p.Key == "" {
		return apperrors.Unprocessable(apperrors.CodeValidationFailed, "key must not be empty")
	}
	vc.key = p.Key
	return nil
}

func (vc *VariationContext) applyCreateRegion(args json.RawMessage) error {
	var p createRegionParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	track, err := vc.resolveTrackLocked(p.Track)
	if err != nil {
		return err
	}
	if p.DurationBeats <= 0 {
		return apperrors.Unprocessable(apperrors.CodeValidationFailed, "region duration must be positive")
	}
	id := newNoteID()
	vc.regions[id] = &workRegion{
		id:            id,
		trackID:       track.id,
		name:          p.Name,
		startBeat:     p.StartBeat,
		durationBeats: p.DurationBeats,
		created:       true,
	}
	return nil
}

func (vc *VariationContext) applyAddNotes(args json.RawMessage) error {
	var p addNotesParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	region, err := vc.resolveRegionLocked(p.Region)
	if err != nil {
		return err
	}
	for _, n := range p.Notes {
		if !domain.ValidPitch(n.Pitch) {
			return apperrors.Unprocessable(apperrors.CodeValidationFailed, "note pitch out of range")
		}
		if n.ID == "" {
			n.ID = newNoteID()
		}
		n.Velocity = domain.ClampVelocity(n.Velocity)
		region.notes = append(region.notes, n)
	}
	return nil
}

func (vc *VariationContext) applyRemoveNotes(args json.RawMessage) error {
	var p removeNotesParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	region, err := vc.resolveRegionLocked(p.Region)
	if err != nil {
		return err
	}
	gone := make(map[string]struct{}, len(p.NoteIDs))
	for _, id := range p.NoteIDs {
		gone[id] = struct{}{}
	}
	kept := region.notes[:0]
	for _, n := range region.notes {
		if _, drop := gone[n.ID]; !drop {
			kept = append(kept, n)
		}
	}
	region.notes = kept
	return nil
}

func (vc *VariationContext) applyUpdateNotes(args json.RawMessage) error {
	var p updateNotesParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	region, err := vc.resolveRegionLocked(p.Region)
	if err != nil {
		return err
	}
	byID := make(map[string]int, len(region.notes))
	for i, n := range region.notes {
		byID[n.ID] = i
	}
	for _, n := range p.Notes {
		i, ok := byID[n.ID]
		if !ok {
			return apperrors.Unprocessable(apperrors.CodeValidationFailed, "note not found: "+n.ID)
		}
		n.Velocity = domain.ClampVelocity(n.Velocity)
		region.notes[i] = n
	}
	return nil
}

func (vc *VariationContext) applyAddControllerEvents(args json.RawMessage) error {
	var p addControllerEventsParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	region, err := vc.resolveRegionLocked(p.Region)
	if err != nil {
		return err
	}
	region.ctrls = append(region.ctrls, p.Events...)
	return nil
}

func (vc *VariationContext) applySetTrackVolume(args json.RawMessage) error {
	var p setTrackVolumeParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	track, err := vc.resolveTrackLocked(p.Track)
	if err != nil {
		return err
	}
	if p.Volume < 0 {
		p.Volume = 0
	}
	if p.Volume > 1 {
		p.Volume = 1
	}
	track.levels.Volume = p.Volume
	track.changed = true
	return nil
}

func (vc *VariationContext) applySetTrackPan(args json.RawMessage) error {
	var p setTrackPanParams
	if err := narrow(args, &p); err != nil {
		return err
	}
	track, err := vc.resolveTrackLocked(p.Track)
	if err != nil {
		return err
	}
	if p.Pan < -1 {
		p.Pan = -1
	}
	if p.Pan > 1 {
		p.Pan = 1
	}
	track.levels.Pan = p.Pan
	track.changed = true
	return nil
}
