// Package toolchain persists the user-default platform: the toolchain used
// whenever no project pin applies. The record is canonical JSON and every
// mutation is a locked read-modify-write with an atomic replace.
package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fileutils"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/lock"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

// Toolchain reads and writes the user default platform.
type Toolchain struct {
	home *layout.Home
}

// New returns the Toolchain for a home.
func New(home *layout.Home) *Toolchain {
	return &Toolchain{home: home}
}

// record is the on-disk shape. The key order here is the canonical
// serialization order.
type record struct {
	Node string `json:"node,omitempty"`
	Npm  string `json:"npm,omitempty"`
	Yarn string `json:"yarn,omitempty"`
	Pnpm string `json:"pnpm,omitempty"`
}

// Load returns the default platform, or nil when none is set. Versions are
// tagged with the default source.
func (t *Toolchain) Load() (*platform.Platform, error) {
	data, err := os.ReadFile(t.home.UserPlatformFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileSystemError("could not read the default platform", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.NewInputError("the default platform file is malformed", err)
	}
	return rec.toPlatform()
}

func (rec *record) toPlatform() (*platform.Platform, error) {
	plat := &platform.Platform{}

	parse := func(raw, key string) (*semver.Version, error) {
		v, err := version.ParseVersion(raw)
		if err != nil {
			return nil, errors.NewInputError(fmt.Sprintf("the default %s version is malformed", key), err)
		}
		return v, nil
	}

	if rec.Node != "" {
		v, err := parse(rec.Node, "node")
		if err != nil {
			return nil, err
		}
		plat.Node = platform.NewSourced(v, platform.SourceDefault)
	}
	if rec.Npm != "" {
		v, err := parse(rec.Npm, "npm")
		if err != nil {
			return nil, err
		}
		plat.Npm = platform.NewSourced(v, platform.SourceDefault)
	}
	if rec.Yarn != "" {
		v, err := parse(rec.Yarn, "yarn")
		if err != nil {
			return nil, err
		}
		plat.Pm = platform.NewSourced(platform.Pm{Kind: platform.PmYarn, Version: v}, platform.SourceDefault)
	} else if rec.Pnpm != "" {
		v, err := parse(rec.Pnpm, "pnpm")
		if err != nil {
			return nil, err
		}
		plat.Pm = platform.NewSourced(platform.Pm{Kind: platform.PmPnpm, Version: v}, platform.SourceDefault)
	}

	if plat.IsEmpty() {
		return nil, nil
	}
	return plat, nil
}

// SetDefault records v as the user default for the tool. A nil version
// clears the entry. The whole operation runs under the exclusive lock.
func (t *Toolchain) SetDefault(ctx context.Context, tl tool.Tool, v *semver.Version) error {
	return lock.WithExclusive(ctx, t.home, func() error {
		var rec record
		data, err := os.ReadFile(t.home.UserPlatformFile())
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &rec); err != nil {
				return errors.NewInputError("the default platform file is malformed", err)
			}
		case !os.IsNotExist(err):
			return errors.NewFileSystemError("could not read the default platform", err)
		}

		value := ""
		if v != nil {
			value = v.String()
		}

		switch tl.Kind {
		case tool.KindNode:
			rec.Node = value
		case tool.KindNpm:
			rec.Npm = value
		case tool.KindYarn:
			rec.Yarn = value
			if value != "" {
				rec.Pnpm = ""
			}
		case tool.KindPnpm:
			rec.Pnpm = value
			if value != "" {
				rec.Yarn = ""
			}
		default:
			return errors.NewInputError(fmt.Sprintf("%s cannot be a toolchain default", tl), nil)
		}

		return t.write(&rec)
	})
}

// write serializes the record canonically: LF line endings, two-space
// indent, fixed key order.
func (t *Toolchain) write(rec *record) error {
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.NewBugError("could not serialize the default platform", err)
	}

	body := strings.ReplaceAll(string(out), "\r\n", "\n") + "\n"
	if err := fileutils.WriteFileAtomic(t.home.UserPlatformFile(), []byte(body), 0o644); err != nil {
		return errors.NewFileSystemError("could not write the default platform", err)
	}
	return nil
}
