package combivox

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// OutputKind tells a consumer how to model a programmable output.
type OutputKind int

const (
	// OutputButton is a momentary output: fire and forget.
	OutputButton OutputKind = iota
	// OutputSwitch is a latching output with readable state.
	OutputSwitch
)

// Output is one programmable command output as configured on the panel.
type Output struct {
	Name string
	Kind OutputKind
}

// Labels holds the installer-assigned names downloaded from the panel.
// Unconfigured entries are absent from the maps.
type Labels struct {
	Zones   map[int]string
	Areas   map[int]string
	Macros  map[int]string
	Outputs map[int]Output
}

const labelRetries = 5

// DownloadLabels pulls zone, area, macro and output names from the panel.
// The firmware populates the label files lazily, so each download is a
// trigger request followed by bounded retries. Sections that fail leave
// their map empty rather than failing the whole download.
func (c *Client) DownloadLabels(ctx context.Context) (Labels, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return Labels{}, fmt.Errorf("cannot download labels: %w", err)
	}

	labels := Labels{
		Zones:   map[int]string{},
		Areas:   map[int]string{},
		Macros:  map[int]string{},
		Outputs: map[int]Output{},
	}

	if err := c.downloadProgLabels(ctx, &labels); err != nil {
		return labels, err
	}
	if err := c.downloadMacroLabels(ctx, &labels); err != nil {
		log.Warn("macro labels unavailable", "err", err)
	}
	if err := c.downloadOutputLabels(ctx, &labels); err != nil {
		log.Warn("output labels unavailable", "err", err)
	}
	return labels, nil
}

func (c *Client) downloadProgLabels(ctx context.Context, labels *Labels) error {
	// trigger makes the firmware render labelProgStato.xml
	if _, err := c.get(ctx, reqProgPath+"?id=9"); err != nil {
		log.Warn("label trigger failed, trying the download anyway", "err", err)
	}
	if err := sleepCtx(ctx, c.session.settle); err != nil {
		return err
	}

	body, err := c.getRetry(ctx, progLabelsPath)
	if err != nil {
		return fmt.Errorf("could not download zone and area labels: %w", err)
	}

	return eachTag(body, func(tag, text string) {
		prefix, id, ok := splitTag(tag)
		if !ok || text == "" {
			return
		}
		name, ok := decodeHexName(text)
		if !ok || name == "" {
			return
		}
		switch prefix {
		case "z":
			labels.Zones[id] = name
		case "a":
			labels.Areas[id] = name
		}
	})
}

func (c *Client) downloadMacroLabels(ctx context.Context, labels *Labels) error {
	body, err := c.get(ctx, macroIDsPath)
	if err != nil {
		return err
	}
	ids := parseIDList(body)
	if len(ids) == 0 {
		return nil
	}

	resp, err := c.postRetry(ctx, command{
		path:    macroLabelsPath,
		body:    encodeLabelQuery(ids),
		referer: "/index.htm?id=2",
	})
	if err != nil {
		return err
	}

	return eachTag(resp, func(tag, text string) {
		prefix, id, ok := splitTag(tag)
		if !ok || prefix != "m" || text == "" {
			return
		}
		// payload is HEXNAME~n~n, only the first field matters
		if name, ok := decodeHexName(firstField(text)); ok && name != "" {
			labels.Macros[id] = name
		}
	})
}

func (c *Client) downloadOutputLabels(ctx context.Context, labels *Labels) error {
	if _, err := c.get(ctx, fmt.Sprintf("%s?id=4&idc=%d", reqProgPath, idcWeb)); err != nil {
		log.Warn("output trigger failed, trying the download anyway", "err", err)
	}
	if err := sleepCtx(ctx, c.session.settle); err != nil {
		return err
	}

	body, err := c.get(ctx, cmdIDsPath)
	if err != nil {
		return err
	}
	ids := parseIDList(body)
	if len(ids) == 0 {
		return nil
	}

	resp, err := c.postRetry(ctx, command{
		path:    cmdLabelsPath,
		body:    encodeLabelQuery(ids),
		referer: "/index.htm?id=6",
	})
	if err != nil {
		return err
	}

	return eachTag(resp, func(tag, text string) {
		prefix, id, ok := splitTag(tag)
		if !ok || prefix != "m" || text == "" {
			return
		}
		// payload is HEXNAME~type~..., type 1 marks a latching output
		fields := strings.Split(text, "~")
		name, ok := decodeHexName(fields[0])
		if !ok || name == "" {
			return
		}
		kind := OutputButton
		if len(fields) > 1 && strings.TrimSpace(fields[1]) == "1" {
			kind = OutputSwitch
		}
		labels.Outputs[id] = Output{Name: name, Kind: kind}
	})
}

func (c *Client) getRetry(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	var err error
	for i := 0; i < labelRetries; i++ {
		if body, err = c.get(ctx, path); err == nil && !isLoginPage(body) {
			return body, nil
		}
		if serr := sleepCtx(ctx, c.session.settle); serr != nil {
			return nil, serr
		}
	}
	if err == nil {
		err = ErrSessionExpired
	}
	return nil, err
}

func (c *Client) postRetry(ctx context.Context, cmd command) ([]byte, error) {
	var body []byte
	var err error
	for i := 0; i < labelRetries; i++ {
		if body, err = c.post(ctx, cmd); err == nil && !isLoginPage(body) {
			return body, nil
		}
		if serr := sleepCtx(ctx, c.session.settle); serr != nil {
			return nil, serr
		}
	}
	if err == nil {
		err = ErrSessionExpired
	}
	return nil, err
}

// eachTag walks a flat XML document and hands every leaf element's tag
// name and trimmed text to fn. The label files use dynamic tag names, so
// struct unmarshalling does not apply.
func eachTag(data []byte, fn func(tag, text string)) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var cur string
	var buf strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not parse label document: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			cur = t.Name.Local
			buf.Reset()
		case xml.CharData:
			if cur != "" {
				buf.Write(t)
			}
		case xml.EndElement:
			if cur != "" && cur == t.Name.Local {
				fn(cur, strings.TrimSpace(buf.String()))
			}
			cur = ""
		}
	}
}

// parseIDList reads the c0..cN index tags into the ids they carry.
func parseIDList(data []byte) []int {
	var ids []int
	_ = eachTag(data, func(tag, text string) {
		if prefix, _, ok := splitTag(tag); !ok || prefix != "c" {
			return
		}
		if id, err := strconv.Atoi(text); err == nil {
			ids = append(ids, id)
		}
	})
	return ids
}

// splitTag breaks a dynamic tag like z12 into its prefix and number.
func splitTag(tag string) (prefix string, id int, ok bool) {
	if len(tag) < 2 {
		return "", 0, false
	}
	id, err := strconv.Atoi(tag[1:])
	if err != nil {
		return "", 0, false
	}
	return tag[:1], id, true
}

func firstField(s string) string {
	if i := strings.IndexByte(s, '~'); i > 0 {
		return s[:i]
	}
	return s
}

// decodeHexName turns a hex-encoded label into text. Panels installed
// before the UTF-8 firmware update store names in Latin-1, so invalid
// UTF-8 falls back to that.
func decodeHexName(s string) (string, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	if !utf8.Valid(raw) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", false
		}
		raw = decoded
	}
	return strings.TrimSpace(string(raw)), true
}
