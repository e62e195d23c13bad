package render

import (
	"fmt"
	"regexp"
)

// safeArgPattern rejects any byte that could carry shell metacharacters
// through to a shell-evaluated process launcher. exec.Command never invokes
// a shell itself, but the guard exists so a future transport (e.g. a queue
// worker that shells out via /bin/sh -c) cannot be introduced without this
// check catching injected metacharacters first.
var safeArgPattern = regexp.MustCompile(`^[A-Za-z0-9_./:=\-]+$`)

// ErrUnsafeArgument is returned by BuildFFmpegArgs when an input value
// would not survive the safe-argv guard.
type ErrUnsafeArgument struct{ Value string }

func (e ErrUnsafeArgument) Error() string {
	return fmt.Sprintf("render: unsafe argument %q rejected by safe-argv guard", e.Value)
}

// validateArg checks one argv slot against the guard. Paths legitimately
// contain more characters than flag values, so callers pass an explicit
// "path" class for inputs/outputs.
func validateArg(v string, allowPath bool) error {
	if v == "" {
		return ErrUnsafeArgument{Value: v}
	}
	if allowPath {
		// Paths may contain spaces; reject only null bytes and shell
		// metacharacters that would matter if ever passed through a shell.
		for _, r := range v {
			switch r {
			case 0, '|', '&', ';', '$', '`', '\n', '\r', '<', '>':
				return ErrUnsafeArgument{Value: v}
			}
		}
		return nil
	}
	if !safeArgPattern.MatchString(v) {
		return ErrUnsafeArgument{Value: v}
	}
	return nil
}

// BuildFFmpegArgs constructs the argv slice for transcoding inputPath to
// outputPath at the given quality profile. Every element is a distinct
// argv slot (no shell interpolation); the allowlist of flags is fixed to
// this one transcode template. The thumbnail step in worker.go builds its
// own fixed frame-extraction argv without going through this function.
func BuildFFmpegArgs(inputPath, outputPath string, profile Profile) ([]string, error) {
	if err := validateArg(inputPath, true); err != nil {
		return nil, err
	}
	if err := validateArg(outputPath, true); err != nil {
		return nil, err
	}
	if err := validateArg(profile.Resolution, false); err != nil {
		return nil, err
	}
	if err := validateArg(profile.Bitrate, false); err != nil {
		return nil, err
	}

	return []string{
		"-y",
		"-i", inputPath,
		"-s", profile.Resolution,
		"-b:v", profile.Bitrate,
		"-c:v", "libx264",
		"-c:a", "aac",
		outputPath,
	}, nil
}
