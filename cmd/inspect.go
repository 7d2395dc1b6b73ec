// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/frame"
	"github.com/Thermoquad/ember/pkg/host"
	"github.com/Thermoquad/ember/pkg/metadata"
)

var (
	inspectBundle bool
	inspectFrames bool
	inspectBytes  int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the contents of a flash image or an update bundle",
	Long: `Show what is installed in an emulator flash image: the metadata record,
the release message and the first bytes of the firmware.

With --bundle the file is treated as a protected bundle instead. Every frame
is authenticated with the key from --secrets and the reassembled image is
summarised; --frames lists each decrypted frame.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectBundle, "bundle", false, "Inspect a protected bundle")
	inspectCmd.Flags().BoolVar(&inspectFrames, "frames", false, "List every decrypted frame (bundle only)")
	inspectCmd.Flags().IntVar(&inspectBytes, "bytes", 64, "Firmware bytes to dump")
}

var (
	inspectTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("12")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	inspectLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("12")).
				Bold(true)

	inspectValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))

	inspectWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11"))
)

func field(label, value string) string {
	return fmt.Sprintf("%s %s\n", inspectLabelStyle.Render(fmt.Sprintf("%-16s", label+":")), inspectValueStyle.Render(value))
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if inspectBundle {
		return inspectBundleFile(args[0], data)
	}
	return inspectFlashImage(args[0], data)
}

func inspectFlashImage(path string, data []byte) error {
	mem := flash.NewMemory(uint32(len(data)), flash.PageSize)
	if err := mem.Restore(data); err != nil {
		return err
	}
	layout := flash.DefaultLayout()
	store := metadata.NewStore(mem, layout.MetadataBase, layout.PageSize)

	var s strings.Builder
	s.WriteString(inspectTitleStyle.Render("FLASH IMAGE"))
	s.WriteString("\n")
	s.WriteString(field("File", fmt.Sprintf("%s (%d bytes)", path, len(data))))

	rec, installed, err := store.Load()
	if err != nil {
		return err
	}
	if !installed {
		s.WriteString(inspectWarningStyle.Render("No firmware installed (metadata erased)"))
		s.WriteString("\n")
		fmt.Print(s.String())
		return nil
	}

	s.WriteString(field("Metadata", fmt.Sprintf("0x%08X @ 0x%05X", rec.Pack(), layout.MetadataBase)))
	s.WriteString(field("Version", fmt.Sprintf("%d", rec.Version)))
	s.WriteString(field("Firmware size", fmt.Sprintf("%d bytes @ 0x%05X", rec.FirmwareSize, layout.FirmwareBase)))

	msg, _, err := store.ReleaseMessage(layout.FirmwareBase)
	if err != nil {
		s.WriteString(field("Release message", inspectWarningStyle.Render(err.Error())))
	} else {
		s.WriteString(field("Release message", fmt.Sprintf("%q", msg)))
	}

	n := min(inspectBytes, int(rec.FirmwareSize))
	if n > 0 {
		fw := make([]byte, n)
		if err := mem.Read(layout.FirmwareBase, fw); err != nil {
			return err
		}
		s.WriteString(field("Firmware", strings.TrimSuffix(frame.FormatHex(fw, 17), "\n")))
	}

	fmt.Print(s.String())
	return nil
}

func inspectBundleFile(path string, data []byte) error {
	codec, err := loadCodec()
	if err != nil {
		return err
	}

	var s strings.Builder
	s.WriteString(inspectTitleStyle.Render("UPDATE BUNDLE"))
	s.WriteString("\n")
	s.WriteString(field("File", fmt.Sprintf("%s (%d bytes)", path, len(data))))

	if inspectFrames {
		frames, err := host.Frames(data)
		if err != nil {
			return err
		}
		for i, raw := range frames {
			p, err := codec.Decode(raw)
			if err != nil {
				fmt.Fprintf(&s, "[%d] %s\n", i, inspectWarningStyle.Render(err.Error()))
				continue
			}
			fmt.Fprintf(&s, "[%d] %s", i, frame.FormatPayload(p))
		}
	}

	img, err := host.Open(codec, data)
	if err != nil {
		fmt.Print(s.String())
		return err
	}

	s.WriteString(field("Version", fmt.Sprintf("%d", img.Version)))
	s.WriteString(field("Firmware size", fmt.Sprintf("%d bytes", len(img.Firmware))))
	s.WriteString(field("Release message", fmt.Sprintf("%q", img.Message)))
	if n := min(inspectBytes, len(img.Firmware)); n > 0 {
		s.WriteString(field("Firmware", strings.TrimSuffix(frame.FormatHex(img.Firmware[:n], 17), "\n")))
	}
	for _, v := range host.ValidateImage(img) {
		s.WriteString(inspectWarningStyle.Render(v.Error()))
		s.WriteString("\n")
	}

	fmt.Print(s.String())
	return nil
}
