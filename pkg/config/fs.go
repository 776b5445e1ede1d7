package config

import "github.com/spf13/afero"

// fs is the filesystem used for all reads and writes in this package. Tests
// override it with afero.NewMemMapFs().
var fs = afero.NewOsFs()
