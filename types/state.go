package types

// LoopState mirrors the file watcher's pending work at the top of a cycle.
type LoopState struct {
	ChangedFiles []string `json:"changed_files"`
	RemovedFiles []string `json:"removed_files"`
}

// Empty reports whether there are no changed files.
// Removals alone do not make a cycle productive; they ride along with the next change.
func (s LoopState) Empty() bool {
	return len(s.ChangedFiles) == 0
}

// BusyFlags is the cooperative lock set read from the state store.
type BusyFlags struct {
	Scanning  bool `json:"scanning"`
	Uploading bool `json:"uploading"`
	Analyzing bool `json:"analyzing"`
	Testing   bool `json:"testing"`
}

// Any reports whether any flag is set.
func (f BusyFlags) Any() bool {
	return f.Scanning || f.Uploading || f.Analyzing || f.Testing
}

// Active returns the names of the set flags, for logging.
func (f BusyFlags) Active() []string {
	var names []string
	if f.Scanning {
		names = append(names, "scanning")
	}
	if f.Uploading {
		names = append(names, "uploading")
	}
	if f.Analyzing {
		names = append(names, "analyzing")
	}
	if f.Testing {
		names = append(names, "testing")
	}
	return names
}
