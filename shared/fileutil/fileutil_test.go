package fileutil_test

import (
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/enclavecode/swarm/shared/fileutil"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
)

func TestPathExpansion(t *testing.T) {
	user, err := user.Current()
	require.NoError(t, err)
	tests := map[string]string{
		"/home/someuser/tmp": "/home/someuser/tmp",
		"~/tmp":              user.HomeDir + "/tmp",
		"$DDDXXX/a/b":        "/tmp/a/b",
		"/a/b/":              "/a/b",
	}
	require.NoError(t, os.Setenv("DDDXXX", "/tmp"))
	for test, expected := range tests {
		expanded, err := fileutil.ExpandPath(test)
		require.NoError(t, err)
		assert.Equal(t, expected, expanded)
	}
}

func TestMkdirAll_AlreadyExists_WrongPermissions(t *testing.T) {
	dirName := t.TempDir() + "somedir"
	err := os.MkdirAll(dirName, os.ModePerm)
	require.NoError(t, err)
	err = fileutil.MkdirAll(dirName)
	assert.ErrorContains(t, "already exists without proper 0700 permissions", err)
}

func TestMkdirAll_AlreadyExists_OK(t *testing.T) {
	dirName := t.TempDir() + "somedir"
	err := os.MkdirAll(dirName, params.SwarmIoConfig().ReadWriteExecutePermissions)
	require.NoError(t, err)
	assert.NoError(t, fileutil.MkdirAll(dirName))
}

func TestMkdirAll_OK(t *testing.T) {
	dirName := t.TempDir() + "somedir"
	err := fileutil.MkdirAll(dirName)
	assert.NoError(t, err)
	exists, err := fileutil.HasDir(dirName)
	require.NoError(t, err)
	assert.Equal(t, true, exists)
}

func TestWriteFile_AlreadyExists_WrongPermissions(t *testing.T) {
	dirName := t.TempDir() + "somedir"
	err := os.MkdirAll(dirName, os.ModePerm)
	require.NoError(t, err)
	someFileName := filepath.Join(dirName, "somefile.txt")
	require.NoError(t, ioutil.WriteFile(someFileName, []byte("hi"), os.ModePerm))
	err = fileutil.WriteFile(someFileName, []byte("hi"))
	assert.ErrorContains(t, "already exists without proper 0600 permissions", err)
}

func TestWriteFile_AlreadyExists_OK(t *testing.T) {
	dirName := t.TempDir() + "somedir"
	err := os.MkdirAll(dirName, os.ModePerm)
	require.NoError(t, err)
	someFileName := filepath.Join(dirName, "somefile.txt")
	require.NoError(t, ioutil.WriteFile(someFileName, []byte("hi"), params.SwarmIoConfig().ReadWritePermissions))
	assert.NoError(t, fileutil.WriteFile(someFileName, []byte("hi")))
}

func TestWriteFile_OK(t *testing.T) {
	dirName := t.TempDir() + "somedir"
	err := os.MkdirAll(dirName, os.ModePerm)
	require.NoError(t, err)
	someFileName := filepath.Join(dirName, "somefile.txt")
	require.NoError(t, fileutil.WriteFile(someFileName, []byte("hi")))
	exists := fileutil.FileExists(someFileName)
	assert.Equal(t, true, exists)
}

func TestCopyFile(t *testing.T) {
	fName := t.TempDir() + "testfile"
	err := ioutil.WriteFile(fName, []byte{1, 2, 3}, params.SwarmIoConfig().ReadWritePermissions)
	require.NoError(t, err)

	err = fileutil.CopyFile(fName, fName+"copy")
	require.NoError(t, err)

	copied, err := ioutil.ReadFile(fName + "copy")
	require.NoError(t, err)
	assert.DeepEqual(t, []byte{1, 2, 3}, copied)
}

func TestHasDir(t *testing.T) {
	dirName := t.TempDir() + "somedir"
	exists, err := fileutil.HasDir(dirName)
	require.NoError(t, err)
	assert.Equal(t, false, exists)
	require.NoError(t, os.MkdirAll(dirName, params.SwarmIoConfig().ReadWriteExecutePermissions))
	exists, err = fileutil.HasDir(dirName)
	require.NoError(t, err)
	assert.Equal(t, true, exists)
}
