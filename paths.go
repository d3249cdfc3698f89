package basebridge

// Paths is the set of filesystem roots an orchestration session reads
// payload blobs from and writes backups/restores to. The mapping from a
// blob key to a file under Loader, and directory creation under Backup,
// are both explicitly out of scope; Paths only names the roots.
type Paths struct {
	Loader string
	Rest   string
	Backup string
}

// DefaultPaths uses relative well-known directories next to the binary.
func DefaultPaths() Paths {
	return Paths{Loader: "./loader", Rest: "./rest", Backup: "./backup"}
}
