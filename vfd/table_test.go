/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package vfd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterGetTake(t *testing.T) {
	tbl := New()
	tbl.Register(5, 100)

	v, ok := tbl.Get(5)
	require.True(t, ok)
	require.Equal(t, uint64(100), v)

	v, ok = tbl.Take(5)
	require.True(t, ok)
	require.Equal(t, uint64(100), v)

	_, ok = tbl.Get(5)
	require.False(t, ok)

	_, ok = tbl.Take(5)
	require.False(t, ok, "take is idempotent")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	tbl := New()
	tbl.Register(3, 1)
	require.Panics(t, func() { tbl.Register(3, 2) })
}

func TestCreate(t *testing.T) {
	tbl := New()
	var gotCloexec bool
	fd, err := tbl.Create(42, true, func(cloexec bool) (int32, error) {
		gotCloexec = cloexec
		return 7, nil
	})
	require.NoError(t, err)
	require.True(t, gotCloexec)
	require.EqualValues(t, 7, fd)

	v, ok := tbl.Get(7)
	require.True(t, ok)
	require.EqualValues(t, 42, v)
}

func TestExportImportRoundTrip(t *testing.T) {
	tbl := New()
	tbl.Register(3, 30)
	tbl.Register(4, 40)
	tbl.Register(5, 50)

	cloexecSet := map[int32]bool{5: true}
	exported := tbl.ExportTable(func(fd int32) bool { return cloexecSet[fd] })

	imported := New()
	require.NoError(t, imported.FillTable(exported))

	_, ok := imported.Get(5)
	require.False(t, ok, "cloexec fd must not survive export")

	v, ok := imported.Get(3)
	require.True(t, ok)
	require.EqualValues(t, 30, v)

	v, ok = imported.Get(4)
	require.True(t, ok)
	require.EqualValues(t, 40, v)
}

func TestFillTableRejectsMalformed(t *testing.T) {
	tbl := New()
	require.Error(t, tbl.FillTable("not-a-valid-entry"))
	require.Error(t, tbl.FillTable("abc:5"))
	require.Error(t, tbl.FillTable("5:abc"))
}

func TestFillTableEmptyString(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.FillTable(""))
}
