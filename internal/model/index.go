package model

// Index is an arena-style lookup built once at Song-load time so the
// compiler and transport never walk slices to resolve a UUID (spec §9:
// "replace any uuid->entity traversal with an arena-style indexed
// lookup"). It is read-only once built; rebuild it after any structural
// edit to the composition (add/remove track, riff, etc.).
type Index struct {
	tracks    map[UUID]*Track
	riffs     map[UUID]*Riff  // riff id -> riff, across all tracks
	riffOwner map[UUID]UUID   // riff id -> owning track id
	riffSets  map[UUID]*RiffSet
	riffSeqs  map[UUID]*RiffSequence
	riffArrs  map[UUID]*RiffArrangement
	samples   map[UUID]*Sample
}

// BuildIndex walks a Song once and returns an Index over every entity it
// owns, directly or transitively.
func BuildIndex(s *Song) *Index {
	idx := &Index{
		tracks:    make(map[UUID]*Track, len(s.Tracks)),
		riffs:     make(map[UUID]*Riff),
		riffOwner: make(map[UUID]UUID),
		riffSets:  make(map[UUID]*RiffSet, len(s.RiffSets)),
		riffSeqs:  make(map[UUID]*RiffSequence, len(s.RiffSequences)),
		riffArrs:  make(map[UUID]*RiffArrangement, len(s.RiffArrangements)),
		samples:   make(map[UUID]*Sample, len(s.Samples)),
	}
	for _, t := range s.Tracks {
		idx.tracks[t.ID] = t
		for i := range t.Riffs {
			idx.riffs[t.Riffs[i].ID] = &t.Riffs[i]
			idx.riffOwner[t.Riffs[i].ID] = t.ID
		}
	}
	for _, rs := range s.RiffSets {
		idx.riffSets[rs.ID] = rs
	}
	for _, seq := range s.RiffSequences {
		idx.riffSeqs[seq.ID] = seq
	}
	for _, arr := range s.RiffArrangements {
		idx.riffArrs[arr.ID] = arr
	}
	for _, smp := range s.Samples {
		idx.samples[smp.ID] = smp
	}
	return idx
}

func (idx *Index) Track(id UUID) *Track               { return idx.tracks[id] }
func (idx *Index) Riff(id UUID) *Riff                  { return idx.riffs[id] }
func (idx *Index) RiffOwner(id UUID) (UUID, bool)      { t, ok := idx.riffOwner[id]; return t, ok }
func (idx *Index) RiffSet(id UUID) *RiffSet            { return idx.riffSets[id] }
func (idx *Index) RiffSequence(id UUID) *RiffSequence  { return idx.riffSeqs[id] }
func (idx *Index) RiffArrangement(id UUID) *RiffArrangement { return idx.riffArrs[id] }
func (idx *Index) Sample(id UUID) *Sample              { return idx.samples[id] }

// RecalculateLength implements spec §9's decision for
// recalculate_song_length: the maximum, across every track, of
// (last riff reference position + referenced riff length). Riff
// references pointing at an unknown riff are skipped (spec §7: invalid
// references are not fatal).
func RecalculateLength(s *Song) float64 {
	idx := BuildIndex(s)
	max := 0.0
	for _, t := range s.Tracks {
		for _, ref := range t.RiffRefs {
			riff := idx.Riff(ref.RiffID)
			if riff == nil {
				continue
			}
			end := ref.Position + riff.LengthBeats
			if end > max {
				max = end
			}
		}
	}
	return max
}
