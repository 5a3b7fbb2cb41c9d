package plugin

import "maps"

// DefaultPermissionFlags maps each permission to the launcher flag that
// grants it.
var DefaultPermissionFlags = map[Permission]string{
	PermissionFileRead:  "--allow-read=./",
	PermissionFileWrite: "--allow-write=./",
	PermissionNetwork:   "--allow-net",
	PermissionHRTime:    "--allow-hrtime",
}

// PermissionFlags returns the launcher flags granted by the declared
// permissions, in AllPermissions order. overrides replaces individual
// entries of DefaultPermissionFlags; an empty override suppresses the flag.
// Undeclared permissions never produce a flag.
func PermissionFlags(info *Info, overrides map[Permission]string) []string {
	flags := maps.Clone(DefaultPermissionFlags)
	maps.Copy(flags, overrides)

	var out []string
	for _, p := range AllPermissions {
		if !info.HasPermission(p) {
			continue
		}
		if flag := flags[p]; flag != "" {
			out = append(out, flag)
		}
	}
	return out
}

// LaunchArgs builds the full argv for a plugin: the launcher prefix,
// the permission flags, then the entry path. With no launcher the entry
// path is executed directly and receives the flags as its arguments.
func LaunchArgs(d Discovered, launcher []string, overrides map[Permission]string) []string {
	flags := PermissionFlags(d.Info, overrides)
	args := make([]string, 0, len(launcher)+len(flags)+1)
	if len(launcher) == 0 {
		args = append(args, d.EntryPath())
		return append(args, flags...)
	}
	args = append(args, launcher...)
	args = append(args, flags...)
	return append(args, d.EntryPath())
}
