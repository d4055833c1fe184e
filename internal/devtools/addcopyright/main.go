// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Addcopyright adds copyright header to each Go and Starlark file.
//
// With -check it only lists files without the header and fails if there are
// any.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"
)

var templates = map[string]string{
	".go": `// © %d Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

`,
	".star": `# © %d Ilya Mateyko. All rights reserved.
# Use of this source code is governed by the ISC
# license that can be found in the LICENSE.md file.

`,
}

var headers = map[string]string{
	".go":   `// ©`,
	".star": `# ©`,
}

// Directories that are never touched.
var skipDirs = []string{"_examples", "testdata", ".git"}

func main() {
	check := flag.Bool("check", false, "Only report files without the header.")
	flag.Parse()

	if _, err := os.Stat("go.mod"); err != nil {
		log.Fatal("run from the repository root")
	}

	missing, err := missingHeader(os.DirFS("."))
	if err != nil {
		log.Fatal(err)
	}
	if *check {
		for _, path := range missing {
			fmt.Println(path)
		}
		if len(missing) > 0 {
			os.Exit(1)
		}
		return
	}
	for _, path := range missing {
		if err := addHeader(path, time.Now().Year()); err != nil {
			log.Fatal(err)
		}
	}
}

// missingHeader returns the files in fsys that should have a copyright header
// but don't.
func missingHeader(fsys fs.FS) ([]string, error) {
	var missing []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, skip := range skipDirs {
				if d.Name() == skip {
					return fs.SkipDir
				}
			}
			return nil
		}
		header, ok := headers[filepath.Ext(path)]
		if !ok {
			return nil
		}
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(content, []byte(header)) {
			missing = append(missing, path)
		}
		return nil
	})
	return missing, err
}

func addHeader(path string, year int) error {
	tmpl, ok := templates[filepath.Ext(path)]
	if !ok {
		return errors.New("no header template for " + path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, tmpl, year)
	buf.Write(content)

	return os.WriteFile(path, buf.Bytes(), info.Mode().Perm())
}
