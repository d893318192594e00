package capture

import (
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// Spec is a parsed source description.
type Spec struct {
	Kind   string
	Target string
}

// ParseSpec splits "kind:target". A bare number is a device index and a
// bare path is a video file.
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, apperrors.New(apperrors.CodeInvalidArgument, "empty source spec")
	}
	kind, target, ok := strings.Cut(s, ":")
	if !ok {
		if _, err := strconv.Atoi(s); err == nil {
			return Spec{Kind: KindDevice, Target: s}, nil
		}
		return Spec{Kind: KindFile, Target: s}, nil
	}
	switch kind {
	case KindDevice, KindFile, KindDir, KindScreen:
	default:
		return Spec{}, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown source kind %q", kind).WithMetadata("spec", s)
	}
	if target == "" {
		return Spec{}, apperrors.Newf(apperrors.CodeInvalidArgument, "source %q has no target", s)
	}
	if kind == KindScreen {
		if _, err := strconv.Atoi(target); err != nil {
			return Spec{}, apperrors.Newf(apperrors.CodeInvalidArgument, "screen index %q is not a number", target)
		}
	}
	return Spec{Kind: kind, Target: target}, nil
}

// String renders the spec back to "kind:target".
func (s Spec) String() string { return s.Kind + ":" + s.Target }

// Open builds the source described by spec, named after it. Devices are
// not opened until Start.
func Open(spec string, rate float64) (Source, error) {
	sp, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	name := sp.String()
	switch sp.Kind {
	case KindDevice:
		if idx, err := strconv.Atoi(sp.Target); err == nil {
			return NewVideoSource(name, idx, rate), nil
		}
		return NewVideoSource(name, sp.Target, rate), nil
	case KindFile:
		return NewFileSource(name, sp.Target, rate), nil
	case KindDir:
		return NewSequenceSource(name, sp.Target, rate), nil
	default:
		idx, _ := strconv.Atoi(sp.Target)
		return NewScreenSource(name, idx, rate), nil
	}
}
