package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"energy-maps/algo"
	"energy-maps/model"
)

// resultFile calibrate 的输出, locate/click 的输入
type resultFile struct {
	Dimensions model.Dimensions       `json:"dimensions"`
	NorthAngle float64                `json:"north_angle"`
	Result     algo.CalibrationResult `json:"result"`
}

var (
	pointsFile string
	resultPath string
	width      float64
	height     float64
	angle      float64
	gpsInput   string
	clickX     float64
	clickY     float64
)

var rootCmd = &cobra.Command{
	Use:          "mapcal",
	Short:        "Map calibration tool",
	Long:         `Calibrate a map image against GPS points and convert between GPS and map grid coordinates.`,
	SilenceUsage: true,
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Compute a calibration from recorded points",
	Long:  `Read a JSON array of {"cartesian":{"x","y"},"gps":{"latitude","longitude"}} points and print the calibration result.`,
	RunE:  runCalibrate,
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Convert a GPS value to grid coordinates",
	RunE:  runLocate,
}

var clickCmd = &cobra.Command{
	Use:   "click",
	Short: "Convert grid coordinates to a GPS value",
	RunE:  runClick,
}

func init() {
	calibrateCmd.Flags().StringVarP(&pointsFile, "points", "p", "", "Calibration points JSON file")
	calibrateCmd.Flags().Float64Var(&width, "width", 0, "Image width in pixels")
	calibrateCmd.Flags().Float64Var(&height, "height", 0, "Image height in pixels")
	calibrateCmd.Flags().Float64VarP(&angle, "angle", "a", 0, "North angle in degrees, clockwise from image up")
	_ = calibrateCmd.MarkFlagRequired("points")
	_ = calibrateCmd.MarkFlagRequired("width")
	_ = calibrateCmd.MarkFlagRequired("height")

	locateCmd.Flags().StringVarP(&resultPath, "result", "r", "", "Calibration result JSON file")
	locateCmd.Flags().StringVarP(&gpsInput, "gps", "g", "", `GPS value as "latitude,longitude"`)
	_ = locateCmd.MarkFlagRequired("result")
	_ = locateCmd.MarkFlagRequired("gps")

	clickCmd.Flags().StringVarP(&resultPath, "result", "r", "", "Calibration result JSON file")
	clickCmd.Flags().Float64Var(&clickX, "x", 0, "Grid x")
	clickCmd.Flags().Float64Var(&clickY, "y", 0, "Grid y")
	_ = clickCmd.MarkFlagRequired("result")

	rootCmd.AddCommand(calibrateCmd, locateCmd, clickCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(pointsFile)
	if err != nil {
		return fmt.Errorf("read points: %w", err)
	}
	var points []model.CalibratedPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return fmt.Errorf("parse points: %w", err)
	}

	dims := model.Dimensions{Width: width, Height: height}
	result, err := algo.Calibrate(points, dims, angle)
	if err != nil {
		return err
	}
	return printJSON(cmd, resultFile{
		Dimensions: dims,
		NorthAngle: algo.NormalizeAngle(angle),
		Result:     *result,
	})
}

func runLocate(cmd *cobra.Command, args []string) error {
	gps, err := algo.ParseGPS(gpsInput)
	if err != nil {
		return err
	}
	tr, err := loadTransform(resultPath)
	if err != nil {
		return err
	}
	p := tr.GPSToGrid(gps)
	return printJSON(cmd, map[string]interface{}{
		"x":      p.X,
		"y":      p.Y,
		"inside": tr.Contains(p),
	})
}

func runClick(cmd *cobra.Command, args []string) error {
	tr, err := loadTransform(resultPath)
	if err != nil {
		return err
	}
	p := model.CartesianPoint{X: clickX, Y: clickY}
	gps := tr.GridToGPS(p)
	return printJSON(cmd, map[string]interface{}{
		"gps":    algo.FormatGPS(&gps),
		"inside": tr.Contains(p),
	})
}

func loadTransform(path string) (*algo.Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var rf resultFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return algo.NewTransform(rf.Result, rf.Dimensions, rf.NorthAngle)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
