package version

// EmptyValue is the value Version has when the binary wasn't built by the
// release process. This is helpful for telling when we're running in a unit
// test or a plain development build.
const EmptyValue = "dev"

// Version is the latest release tag. It's stamped at build time via ldflags;
// on non-release commits it may include additional information such as the
// most recent commit hash.
var Version = EmptyValue
