package lang

func init() {
	Register(&LanguageSpec{
		Language:          C,
		FileExtensions:    []string{".c", ".h", ".cpp", ".hpp", ".cc", ".cxx", ".hxx"},
		FunctionNodeTypes: []string{"function_definition", "declaration"},
		ClassNodeTypes:    []string{"struct_specifier", "enum_specifier", "union_specifier"},
		FieldNodeTypes:    []string{"field_declaration"},
		ModuleNodeTypes:     []string{"translation_unit"},
		CallNodeTypes:       []string{"call_expression"},
		ImportNodeTypes:     []string{"preproc_include"},
		VariableNodeTypes:   []string{"declaration"},
		AssignmentNodeTypes: []string{"assignment_expression"},
		BranchingNodeTypes: []string{
			"if_statement", "for_statement", "while_statement",
			"do_statement", "case_statement", "switch_statement",
		},
	})
}
