package config

// Diff describes what changed between two configs. Only fields that can be
// applied to a live session without restarting are tracked: voice and prompt
// changes resync the session parameters, a character change takes effect on
// the next connect.
type Diff struct {
	VoiceChanged     bool
	PromptChanged    bool
	CharacterChanged bool
	LogLevelChanged  bool
	NewLogLevel      LogLevel
}

// Empty reports whether nothing reloadable changed.
func (d Diff) Empty() bool {
	return !d.VoiceChanged && !d.PromptChanged && !d.CharacterChanged && !d.LogLevelChanged
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	var d Diff
	if old == nil || new == nil {
		return d
	}
	d.VoiceChanged = old.Session.Voice != new.Session.Voice
	d.PromptChanged = old.Session.Prompt != new.Session.Prompt
	d.CharacterChanged = old.Session.Character != new.Session.Character
	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}
	return d
}
