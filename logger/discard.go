package logger

// Discard is a Logger that drops everything. Useful as a default and in tests.
var Discard Logger = discard{}

type discard struct{}

func (discard) WithField(string, any) Logger      { return Discard }
func (discard) WithFields(map[string]any) Logger  { return Discard }
func (discard) WithError(error) Logger            { return Discard }
func (discard) Debug(...any)                      {}
func (discard) Info(...any)                       {}
func (discard) Warn(...any)                       {}
func (discard) Error(...any)                      {}
func (discard) Fatal(...any)                      {}
func (discard) Debugf(string, ...any)             {}
func (discard) Infof(string, ...any)              {}
func (discard) Warnf(string, ...any)              {}
func (discard) Errorf(string, ...any)             {}
func (discard) Fatalf(string, ...any)             {}
func (discard) SetLevel(Level)                    {}
func (discard) GetLevel() Level                   { return Disabled }
