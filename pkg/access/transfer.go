package access

import (
	"context"
	"fmt"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

var linkFamily = map[respath.TransferMode]bool{
	respath.ModeLink:       true,
	respath.ModeHardlink:   true,
	respath.ModeSymlink:    true,
	respath.ModeRelsymlink: true,
}

// IncompleteMoveError reports a move whose copy leg succeeded but whose
// source deletion failed. The destination holds a complete copy; the
// source must be cleaned up by the caller.
type IncompleteMoveError struct {
	Src respath.ResourcePath
	Dst respath.ResourcePath
	Err error
}

func (e *IncompleteMoveError) Error() string {
	return fmt.Sprintf("move: copied %s to %s but could not remove source: %v", e.Src, e.Dst, e.Err)
}

func (e *IncompleteMoveError) Unwrap() error { return e.Err }

// Transfer materializes src at dst using the given mode. The mode is
// validated against the destination scheme before any I/O happens. Auto
// resolves to the destination's default. Identical URIs are a no-op.
// Backends able to transfer directly are used first; everything else goes
// through a local staging copy.
func (c *Client) Transfer(ctx context.Context, dst, src respath.ResourcePath, mode respath.TransferMode, overwrite bool) error {
	dstAcc, err := c.accessor(ctx, dst)
	if err != nil {
		return err
	}

	supported := false
	for _, m := range dstAcc.TransferModes() {
		if m == mode {
			supported = true
			break
		}
	}
	if !supported {
		return xerrors.E(xerrors.KindTransferMode, string(mode), dst.String())
	}
	if mode == respath.ModeAuto {
		mode = dstAcc.TransferDefault()
	}

	if dst.Equal(src) {
		return nil
	}

	if !overwrite {
		exists, err := dstAcc.Exists(ctx, dst)
		if err != nil {
			return err
		}
		if exists {
			return xerrors.E(xerrors.KindAlreadyExists, "transfer", dst.String())
		}
	}

	if linkFamily[mode] {
		return c.transferLink(ctx, dstAcc, dst, src, mode)
	}

	if direct, ok := dstAcc.(respath.DirectTransferrer); ok {
		handled, err := direct.TransferDirect(ctx, dst, src, mode, overwrite)
		if handled {
			return err
		}
	}
	return c.transferViaStaging(ctx, dstAcc, dst, src, mode, overwrite)
}

// transferLink creates a link at dst pointing at src. Links only make
// sense for local destinations whose source outlives the link, so a
// staged temporary source is rejected.
func (c *Client) transferLink(ctx context.Context, dstAcc respath.Accessor, dst, src respath.ResourcePath, mode respath.TransferMode) error {
	linker, ok := dstAcc.(respath.Linker)
	if !ok {
		return xerrors.E(xerrors.KindTransferMode, string(mode), dst.String())
	}
	if !src.IsLocal() {
		return xerrors.E(xerrors.KindTransferMode, string(mode), src.String())
	}
	if src.IsTemporary() {
		return xerrors.E(xerrors.KindInvalid, string(mode), src.String())
	}
	return linker.Link(ctx, dst, src, mode)
}

// transferViaStaging copies through the local file system: stage the
// source locally, upload to the destination, and for a move delete the
// source afterwards.
func (c *Client) transferViaStaging(ctx context.Context, dstAcc respath.Accessor, dst, src respath.ResourcePath, mode respath.TransferMode, overwrite bool) error {
	srcAcc, err := c.accessor(ctx, src)
	if err != nil {
		return err
	}
	local, release, err := c.AsLocal(ctx, src)
	if err != nil {
		return err
	}
	defer release()

	localAcc, err := c.accessor(ctx, local)
	if err != nil {
		return err
	}
	data, err := localAcc.Read(ctx, local, -1)
	if err != nil {
		return err
	}
	if err := dstAcc.Write(ctx, dst, data, overwrite); err != nil {
		return err
	}

	if mode == respath.ModeMove {
		if err := srcAcc.Remove(ctx, src); err != nil {
			return &IncompleteMoveError{Src: src, Dst: dst, Err: err}
		}
	}
	return nil
}
