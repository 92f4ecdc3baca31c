package room

import "errors"

// Options describe a room. All fields except EmptyClose and Permanent are
// immutable once the room is up.
type Options struct {
	Name            string
	CanvasWidth     int
	CanvasHeight    int
	Password        string // empty = public room
	MaxLoad         int
	WelcomeMsg      string
	EmptyClose      bool // close once the room empties
	Permanent       bool // keep log files after close
	ExpirationHours int  // 0 = unlimited

	// Recovery fields: a recovered room reuses its previous key and log
	// files instead of deriving fresh ones.
	Recovery bool
	Key      string
	DataFile string
	MsgFile  string
}

func (o *Options) withDefaults() error {
	if o.Name == "" {
		return errors.New("room name is required")
	}
	if o.CanvasWidth <= 0 {
		o.CanvasWidth = 720
	}
	if o.CanvasHeight <= 0 {
		o.CanvasHeight = 480
	}
	if o.MaxLoad <= 0 {
		o.MaxLoad = 5
	}
	if o.ExpirationHours < 0 {
		return errors.New("expiration hours must be >= 0")
	}
	if o.Recovery && (o.Key == "" || o.DataFile == "" || o.MsgFile == "") {
		return errors.New("recovery requires key and log file paths")
	}
	return nil
}

// Private reports whether the room requires a password.
func (o Options) Private() bool {
	return o.Password != ""
}
