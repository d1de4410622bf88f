// Package jsondb implements a simple database of JSON documents, backed by
// the file system.
//
// It supports two operations: Read() and Write(). Their signatures mirror
// those of json.Unmarshal() and json.Marshal():
//
//	err := db.Write("my-string", "octopus")
//
//	var v string
//	exists, err := db.Read("my-string", &v)
//
// The JSON document is stored in the directory under name + ".json" and
// replaced atomically on every write.
package jsondb

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

type JSONDatabase struct {
	dir  string
	perm os.FileMode
}

// New creates a database at dir. Documents are written with perm.
func New(dir string, perm os.FileMode) *JSONDatabase {
	return &JSONDatabase{dir, perm}
}

// Read reads the document name into document. It returns false and no error
// when the document does not exist.
func (db *JSONDatabase) Read(name string, document interface{}) (bool, error) {
	f, err := os.Open(path.Join(db.dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("error accessing db file %s: %v", name, err)
	}
	defer f.Close()

	err = json.NewDecoder(f).Decode(&document)
	if err != nil {
		return false, fmt.Errorf("error reading db file %s: %v", name, err)
	}

	return true, nil
}

// List returns the names of all documents, sorted.
func (db *JSONDatabase) List() ([]string, error) {
	infos, err := os.ReadDir(db.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if filepath.Ext(info.Name()) == ".json" {
			names = append(names, strings.TrimSuffix(info.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Write stores document under name, replacing any existing document.
func (db *JSONDatabase) Write(name string, document interface{}) error {
	return writeFileAtomically(db.dir, name+".json", db.perm, func(f *os.File) error {
		return json.NewEncoder(f).Encode(document)
	})
}

// writeFileAtomically writes through a temporary file in dir which is
// renamed to filename once write succeeded.
func writeFileAtomically(dir, filename string, mode os.FileMode, write func(f *os.File) error) error {
	tmpfile, err := os.CreateTemp(dir, filename+"-*.tmp")
	if err != nil {
		return err
	}

	// Remove the temporary file in case of error. After the rename it no
	// longer exists and this is a no-op.
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	err = tmpfile.Chmod(mode)
	if err != nil {
		tmpfile.Close()
		return err
	}

	err = write(tmpfile)
	if err != nil {
		tmpfile.Close()
		return err
	}

	err = tmpfile.Close()
	if err != nil {
		return err
	}

	return os.Rename(tmpfile.Name(), path.Join(dir, filename))
}
