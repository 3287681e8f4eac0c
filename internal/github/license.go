package github

import (
	"fmt"
	"strings"
	"time"
)

const mitLicense = `MIT License

Copyright (c) %d %s

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`

var licenseNames = map[string]struct{}{
	"license":     {},
	"license.md":  {},
	"license.txt": {},
	"mit-license": {},
	"mit_license": {},
}

// ensureLicense injects an MIT LICENSE into the file set when none is
// present, so every published repository carries one.
func ensureLicense(files map[string][]byte, owner string) {
	for path := range files {
		if _, ok := licenseNames[strings.ToLower(path)]; ok {
			return
		}
	}
	files["LICENSE"] = []byte(fmt.Sprintf(mitLicense, time.Now().Year(), owner))
}
