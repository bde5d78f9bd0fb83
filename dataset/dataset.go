//Package dataset loads attack victims from .npy files into gonum
//matrices: one matrix of samples (rows) and one integer label vector.
package dataset

import (
	"fmt"
	"math"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//ReadNpy reads the content of a npy file into a dense matrix.
func ReadNpy(fileName string) (*mat.Dense, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: reading %s: %w", fileName, err)
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, fmt.Errorf("dataset: reading %s: %w", fileName, err)
	}
	return denseMat, nil
}

//Load reads a sample matrix and a label vector. Labels may be stored
//as floats; they are rounded to the nearest integer class.
func Load(xFileName, yFileName string) (*mat.Dense, []int, error) {
	X, err := ReadNpy(xFileName)
	if err != nil {
		return nil, nil, err
	}
	yMat, err := ReadNpy(yFileName)
	if err != nil {
		return nil, nil, err
	}

	rows, cols := yMat.Dims()
	if cols != 1 && rows == 1 {
		// Accept labels stored as a single row.
		yMat = mat.DenseCopyOf(yMat.T())
		rows, cols = yMat.Dims()
	}
	if cols != 1 {
		return nil, nil, fmt.Errorf("dataset: labels in %s have %d columns, want 1", yFileName, cols)
	}
	xRows, _ := X.Dims()
	if rows != xRows {
		return nil, nil, fmt.Errorf("dataset: %d samples but %d labels", xRows, rows)
	}

	y := make([]int, rows)
	for i := 0; i < rows; i++ {
		y[i] = int(math.Round(yMat.At(i, 0)))
	}
	return X, y, nil
}
