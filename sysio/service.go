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

// Package sysio wraps host filesystem access behind domain.IOnodeIface so
// that map-file parsing and special/executable-map invocation can be
// exercised against an in-memory filesystem in tests, exactly as the
// teacher does for procfs/sysfs emulation.
package sysio

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/nestybox/mountbroker/domain"
)

var _ domain.IOServiceIface = (*ioFileService)(nil)

type ioFileService struct {
	fsType domain.IOServiceType
	appFs  afero.Fs
}

func NewIOService(t domain.IOServiceType) domain.IOServiceIface {
	fs := &ioFileService{fsType: t}

	switch t {
	case domain.IOOsFileService:
		fs.appFs = afero.NewOsFs()
	case domain.IOMemFileService:
		fs.appFs = afero.NewMemMapFs()
	default:
		logrus.Panic("unsupported ioService type: ", t)
	}

	return fs
}

func (s *ioFileService) NewIOnode(name, path string, mode os.FileMode) domain.IOnodeIface {
	return &ioNodeFile{name: name, path: path, mode: mode, fss: s}
}

func (s *ioFileService) GetServiceType() domain.IOServiceType {
	return s.fsType
}

// RemoveAllIOnodes wipes the backing filesystem; used by tests against
// the in-memory backend between cases.
func (s *ioFileService) RemoveAllIOnodes() error {
	return s.appFs.RemoveAll("/")
}
