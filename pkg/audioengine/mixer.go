package audioengine

import (
	"stemquina/pkg/spec"
)

// clampGain keeps a gain inside what the sink accepts.
func clampGain(g float64) float64 {
	if g < spec.GainMin {
		return spec.GainMin
	}
	if g > spec.GainMax {
		return spec.GainMax
	}
	return g
}

// MixMatrix derives per-channel gain from volume, mute, master volume and
// solo state.
type MixMatrix struct {
	bank    *TrackBank
	master  float64
	solo    int // -1 when nothing is soloed
	preSolo [spec.NumTracks]bool
}

func NewMixMatrix(bank *TrackBank, master float64) *MixMatrix {
	return &MixMatrix{bank: bank, master: clampGain(master), solo: -1}
}

func (m *MixMatrix) SetMasterVolume(v float64) {
	m.master = clampGain(v)
}

func (m *MixMatrix) MasterVolume() float64 { return m.master }

// EffectiveGain is 0 when muted, else volume * master.
func (m *MixMatrix) EffectiveGain(i int) float64 {
	t, err := m.bank.Track(i)
	if err != nil || t.Mute {
		return 0
	}
	return clampGain(t.Volume * m.master)
}

func (m *MixMatrix) Gains() [spec.NumTracks]float64 {
	var g [spec.NumTracks]float64
	for i := range g {
		g[i] = m.EffectiveGain(i)
	}
	return g
}

// Solo toggles solo on track i. Soloing a second track snapshots the
// current mutes, which already carry the first solo.
func (m *MixMatrix) Solo(i int) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	if m.solo == i {
		m.bank.setMutes(m.preSolo)
		m.solo = -1
		return nil
	}
	m.preSolo = m.bank.Mutes()
	var forced [spec.NumTracks]bool
	for k := range forced {
		forced[k] = k != i
	}
	m.bank.setMutes(forced)
	m.solo = i
	return nil
}

// CurrentSolo returns the soloed track, if any.
func (m *MixMatrix) CurrentSolo() (int, bool) {
	return m.solo, m.solo >= 0
}

// ResetSolo forgets solo state without touching mutes.
func (m *MixMatrix) ResetSolo() {
	m.solo = -1
	m.preSolo = [spec.NumTracks]bool{}
}
