// Mock dnf-json
//
// The purpose of this program is to return fake but expected responses to
// dnf-json queries. Tests configure a dnfjson.Backend to run this program
// via the SetDNFJSONPath() method and pass the path of a test case written
// by dnfjson_mock.TestCase.Write.
package main

import (
	"errors"
	"fmt"
	"os"

	dnfjson_mock "github.com/osbuild/installer-core/internal/mocks/dnfjson"
)

func fail(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

func readTestCase() string {
	if len(os.Args) < 2 {
		fail(errors.New("no test case specified"))
	}
	if len(os.Args) > 2 {
		fail(errors.New("invalid number of arguments: you must specify a test case"))
	}
	return os.Args[1]
}

func main() {
	os.Exit(dnfjson_mock.Serve(readTestCase(), os.Stdin, os.Stdout))
}
