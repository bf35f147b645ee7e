package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/cwrk-planet/code-room/internal/domain"
)

const fallbackJavaClass = "Main"

var javaClassRe = regexp.MustCompile(`public\s+class\s+(\w+)`)

// step is one process of a language pipeline: argv[0] is the binary.
type step struct {
	argv []string
}

type plan struct {
	steps []step
}

// javaEntry returns the public class name and the source to write. When the
// snippet declares no public class it is wrapped into Main.
func javaEntry(code string) (className, source string) {
	if m := javaClassRe.FindStringSubmatch(code); m != nil {
		return m[1], code
	}
	return fallbackJavaClass, fmt.Sprintf("public class %s {\n%s\n}", fallbackJavaClass, code)
}

// materialize writes the snippet into dir and returns the commands to run.
func materialize(dir, code string, lang domain.Language, tc Toolchain) (plan, error) {
	switch lang {
	case domain.LangJavaScript:
		src := filepath.Join(dir, "main.js")
		if err := writeSource(src, code); err != nil {
			return plan{}, err
		}
		return plan{steps: []step{{argv: []string{tc.Node, src}}}}, nil

	case domain.LangPython:
		src := filepath.Join(dir, "main.py")
		if err := writeSource(src, code); err != nil {
			return plan{}, err
		}
		return plan{steps: []step{{argv: []string{tc.Python, src}}}}, nil

	case domain.LangJava:
		className, source := javaEntry(code)
		src := filepath.Join(dir, className+".java")
		if err := writeSource(src, source); err != nil {
			return plan{}, err
		}
		return plan{steps: []step{
			{argv: []string{tc.Javac, "-d", dir, src}},
			{argv: []string{tc.Java, "-cp", dir, className}},
		}}, nil

	case domain.LangCpp:
		src := filepath.Join(dir, "main.cpp")
		bin := filepath.Join(dir, "main")
		if err := writeSource(src, code); err != nil {
			return plan{}, err
		}
		return plan{steps: []step{
			{argv: []string{tc.Gxx, src, "-o", bin}},
			{argv: []string{bin}},
		}}, nil
	}

	return plan{}, domain.ErrUnsupportedLanguage
}

func writeSource(path, code string) error {
	if err := os.WriteFile(path, []byte(code), 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrWorkspace, filepath.Base(path), err)
	}
	return nil
}
