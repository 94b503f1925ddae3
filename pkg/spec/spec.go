package spec

import "time"

const (
	// === IDENTITY & VERSIONING ===
	AppName      = "StemQuina"
	VersionMajor = 0
	VersionMinor = 3

	// === ENGINE SPECS ===
	SampleRate = 44100
	Channels   = 2
	NumTracks  = 5 // slot 0 = reference, 1..4 = stems
	Reference  = 0

	// Playback speed (rate change, pitch follows tempo)
	SpeedMin     = 0.5
	SpeedMax     = 2.0
	SpeedStep    = 0.1
	SpeedDefault = 1.0

	// Mix defaults
	DefaultVolume = 0.8
	MasterVolume  = 0.8
	GainMin       = 0.0
	GainMax       = 1.0

	// Lead-in
	CountInBeats  = 4
	ClickFreq     = 1000.0
	ClickAmp      = 10000.0 / 32768.0
	LoopWindowMs  = 200.0
	NudgeStepMs   = 20.0
	MarkerKeysMax = 9

	// Persisted mapping placeholder
	None = "NONE"

	// File layout
	MetadataFile = "metadata.json"
	StemsDir     = "stems"
	LyricsExt    = ".lrc"
)

var (
	TickInterval   = 20 * time.Millisecond
	CountInSpacing = 600 * time.Millisecond
	ClickDuration  = 70 * time.Millisecond
	DoubleStop     = 500 * time.Millisecond
	HoldDelay      = 400 * time.Millisecond
	HoldRepeat     = 50 * time.Millisecond

	// RoleKeywords indexed by slot-1 (slot 1 = drums ... slot 4 = vocals)
	RoleKeywords = [NumTracks - 1]string{"drum", "bass", "other", "vocal"}

	// StemRoles are the four outputs of the separator
	StemRoles = []string{"vocals", "drums", "bass", "other"}

	// AudioExts accepted by the decoder
	AudioExts = []string{".mp3", ".wav", ".flac", ".opus", ".ogg"}
)
