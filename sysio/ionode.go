//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package sysio

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"

	"github.com/spf13/afero"

	"github.com/nestybox/mountbroker/domain"
)

var _ domain.IOnodeIface = (*ioNodeFile)(nil)

type ioNodeFile struct {
	name string
	path string
	mode os.FileMode
	file afero.File
	fss  *ioFileService
}

func (i *ioNodeFile) Open() error {
	f, err := i.fss.appFs.OpenFile(i.path, os.O_RDONLY, i.mode)
	if err != nil {
		return err
	}
	i.file = f
	return nil
}

func (i *ioNodeFile) Read(p []byte) (int, error) {
	if i.file == nil {
		return 0, fmt.Errorf("%s: not open", i.path)
	}
	return i.file.Read(p)
}

func (i *ioNodeFile) Close() error {
	if i.file == nil {
		return nil
	}
	return i.file.Close()
}

func (i *ioNodeFile) ReadDirAll() ([]os.FileInfo, error) {
	return afero.ReadDir(i.fss.appFs, i.path)
}

func (i *ioNodeFile) ReadFile() ([]byte, error) {
	if i.fss.fsType == domain.IOMemFileService {
		return afero.ReadFile(i.fss.appFs, i.path)
	}
	return ioutil.ReadFile(i.path)
}

func (i *ioNodeFile) ReadLine() (string, error) {
	f, err := i.fss.appFs.Open(i.path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan()
	return scanner.Text(), scanner.Err()
}

func (i *ioNodeFile) WriteFile(p []byte) error {
	if i.fss.fsType == domain.IOMemFileService {
		return afero.WriteFile(i.fss.appFs, i.path, p, i.mode)
	}
	return ioutil.WriteFile(i.path, p, i.mode)
}

func (i *ioNodeFile) Mkdir() error {
	return i.fss.appFs.Mkdir(i.path, i.mode)
}

func (i *ioNodeFile) MkdirAll() error {
	return i.fss.appFs.MkdirAll(i.path, i.mode)
}

func (i *ioNodeFile) Stat() (os.FileInfo, error) {
	return i.fss.appFs.Stat(i.path)
}

func (i *ioNodeFile) Remove() error {
	return i.fss.appFs.Remove(i.path)
}

func (i *ioNodeFile) RemoveAll() error {
	return i.fss.appFs.RemoveAll(i.path)
}

func (i *ioNodeFile) Name() string { return i.name }
func (i *ioNodeFile) Path() string { return i.path }

// RunExecutable invokes i.path as an executable (spec §4.3.1 items 3-4)
// and returns its stdout. Per spec §9 design notes, a nonzero exit
// discards whatever stdout was collected rather than handing a partial
// map to the parser.
func (i *ioNodeFile) RunExecutable(args ...string) ([]byte, error) {
	if i.fss.fsType == domain.IOMemFileService {
		// Unit tests stub executables by pre-seeding a file whose content
		// is the map text the "executable" would have printed.
		return i.ReadFile()
	}

	cmd := exec.Command(i.path, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("executable map %s failed: %w", i.path, err)
	}
	return out, nil
}
