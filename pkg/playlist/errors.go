package playlist

import "fmt"

// ErrInconsistent indicates a live refresh produced a playlist whose
// segments conflict with the one currently in use: a sequence number
// present in both old and new playlists mapped to different URIs.
// internal/live raises this via corestreamerrors.
var ErrInconsistent = fmt.Errorf("playlist: inconsistent update")
