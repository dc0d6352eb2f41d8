package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeandaverde/nanodb/internal/dberr"
)

// headerSize is the number of bytes DBFile reserves for the file-type tag
// and page-size log2 before page 0's own data begins. Page 0 still counts
// as a full page of pageSize bytes on disk; the tag lives in the two
// bytes immediately before it.
const headerSize = 2

// DBFile is a disk file divided into fixed-size pages (spec.md §3). Page 0
// is the header page for tables and indexes.
type DBFile struct {
	path     string
	file     *os.File
	fileType FileType
	pageSize int
}

// TablePath returns the on-disk path for a row-store table.
func TablePath(baseDir, tableName string) string {
	return filepath.Join(baseDir, tableName+".tbl")
}

// TableFileName returns a row-store table's file name relative to its
// base directory, the form WAL records name a file by (see
// internal/wal's Record.FileName).
func TableFileName(tableName string) string {
	return tableName + ".tbl"
}

// ColumnFilePath returns the on-disk path for one column of a
// column-store table.
func ColumnFilePath(baseDir, tableName, columnName string) string {
	return filepath.Join(baseDir, tableName, tableName+"."+columnName+".tbl")
}

// ColumnHeaderPath returns the on-disk path for a column-store table's
// header file.
func ColumnHeaderPath(baseDir, tableName string) string {
	return filepath.Join(baseDir, tableName, tableName+".header.tbl")
}

// WALPath returns the on-disk path for WAL segment n under baseDir.
func WALPath(baseDir string, n int) string {
	return filepath.Join(baseDir, fmt.Sprintf("wal-%05d.log", n))
}

// CreateDBFile creates a new DBFile at path, writing the file-type and
// page-size header. It is an error for path to already exist.
func CreateDBFile(path string, fileType FileType, pageSize int) (*DBFile, error) {
	if err := ValidatePageSize(pageSize); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "create %s", path)
	}

	header := []byte{byte(fileType), EncodePageSize(pageSize)}
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return nil, dberr.Wrapf(dberr.IOFailure, err, "write header %s", path)
	}

	return &DBFile{path: path, file: f, fileType: fileType, pageSize: pageSize}, nil
}

// OpenDBFile opens an existing DBFile and reads back its type/page-size
// header.
func OpenDBFile(path string) (*DBFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "open %s", path)
	}

	header := make([]byte, headerSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, dberr.Wrapf(dberr.IOFailure, err, "read header %s", path)
	}

	fileType := FileType(header[0])
	pageSize := DecodePageSize(header[1])
	if err := ValidatePageSize(pageSize); err != nil {
		f.Close()
		return nil, dberr.Wrapf(dberr.IOFailure, err, "corrupt header %s", path)
	}

	return &DBFile{path: path, file: f, fileType: fileType, pageSize: pageSize}, nil
}

// Path returns the file's path on disk.
func (d *DBFile) Path() string { return d.path }

// FileType returns the file's type tag.
func (d *DBFile) FileType() FileType { return d.fileType }

// PageSize returns the configured page size.
func (d *DBFile) PageSize() int { return d.pageSize }

// offset returns the on-disk byte offset of pageNo. Page 0 sits right
// after the 2-byte file header; every other page is a full pageSize
// stride beyond that.
func (d *DBFile) offset(pageNo int) int64 {
	return int64(headerSize) + int64(pageNo)*int64(d.pageSize)
}

// TotalPages returns the number of pages currently allocated in the file.
func (d *DBFile) TotalPages() (int, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, dberr.Wrapf(dberr.IOFailure, err, "stat %s", d.path)
	}
	size := info.Size() - int64(headerSize)
	if size <= 0 {
		return 0, nil
	}
	return int(size / int64(d.pageSize)), nil
}

// ReadPage reads pageNo's raw bytes from disk.
func (d *DBFile) ReadPage(pageNo int) ([]byte, error) {
	if pageNo < 0 {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("page number %d out of bounds", pageNo))
	}
	buf := make([]byte, d.pageSize)
	if _, err := d.file.ReadAt(buf, d.offset(pageNo)); err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "read page %d of %s", pageNo, d.path)
	}
	return buf, nil
}

// WritePage writes data (exactly PageSize bytes) to pageNo, extending the
// file if necessary.
func (d *DBFile) WritePage(pageNo int, data []byte) error {
	if pageNo < 0 {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("page number %d out of bounds", pageNo))
	}
	if len(data) != d.pageSize {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("page data length %d != page size %d", len(data), d.pageSize))
	}
	if _, err := d.file.WriteAt(data, d.offset(pageNo)); err != nil {
		return dberr.Wrapf(dberr.IOFailure, err, "write page %d of %s", pageNo, d.path)
	}
	return nil
}

// AllocatePage extends the file by one page of zero bytes and returns its
// page number.
func (d *DBFile) AllocatePage() (int, error) {
	total, err := d.TotalPages()
	if err != nil {
		return 0, err
	}
	if err := d.WritePage(total, make([]byte, d.pageSize)); err != nil {
		return 0, err
	}
	return total, nil
}

// Sync forces buffered writes to stable storage.
func (d *DBFile) Sync() error {
	if err := d.file.Sync(); err != nil {
		return dberr.Wrapf(dberr.IOFailure, err, "sync %s", d.path)
	}
	return nil
}

// Close closes the underlying file handle.
func (d *DBFile) Close() error {
	if err := d.file.Close(); err != nil {
		return dberr.Wrapf(dberr.IOFailure, err, "close %s", d.path)
	}
	return nil
}
