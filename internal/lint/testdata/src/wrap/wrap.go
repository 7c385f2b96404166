package wrap

import "xerrors"

func errs(err error) []error {
	return []error{
		xerrors.Errorf("failed: %w", err),
		xerrors.Errorf("failed: %v", err),
		xerrors.Errorf("%w: failed", err), // want "error is not wrapped"
		xerrors.Errorf("failed %w", err),  // want "error is not wrapped"
	}
}
