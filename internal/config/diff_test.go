package config

import "testing"

func TestCompare(t *testing.T) {
	t.Parallel()

	base := func() *Config { return Default() }

	t.Run("no changes", func(t *testing.T) {
		t.Parallel()
		d := Compare(base(), base())
		if !d.Empty() {
			t.Errorf("diff of identical configs = %+v", d)
		}
	})

	t.Run("voice and prompt", func(t *testing.T) {
		t.Parallel()
		next := base()
		next.Session.Voice = "marin"
		next.Session.Prompt = "Focus on pronunciation."
		d := Compare(base(), next)
		if !d.VoiceChanged || !d.PromptChanged {
			t.Errorf("diff = %+v; want voice and prompt flagged", d)
		}
		if d.CharacterChanged || d.LogLevelChanged {
			t.Errorf("diff = %+v; unrelated fields flagged", d)
		}
	})

	t.Run("log level carries new value", func(t *testing.T) {
		t.Parallel()
		next := base()
		next.Log.Level = LogDebug
		d := Compare(base(), next)
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("nil configs", func(t *testing.T) {
		t.Parallel()
		if d := Compare(nil, base()); !d.Empty() {
			t.Errorf("diff with nil old = %+v", d)
		}
	})
}
